// internal/wallet/wallet.go
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Corn-mrb/citadelpay/internal/config"
	"github.com/Corn-mrb/citadelpay/internal/ledger"
	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"github.com/Corn-mrb/citadelpay/pkg/lnbits"
	"go.uber.org/zap"
)

var (
	ErrBadAmount           = errors.New("amount must be positive")
	ErrSelfTip             = errors.New("cannot tip yourself")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverWithdrawLimit   = errors.New("amount exceeds the withdrawal limit")
	ErrAmountRequired      = errors.New("destination does not encode an amount")
)

// Executor is the external Lightning payment service. Payment errors
// are indeterminate: a reported failure does not prove the payment was
// not sent, which is why withdrawals reconcile against
// FindOutgoingPaymentByHash.
type Executor interface {
	CreateInvoice(ctx context.Context, amountSat int64, memo string) (*lnbits.Invoice, error)
	CheckInvoiceStatus(ctx context.Context, paymentHash string) (lnbits.InvoiceStatus, error)
	DecodeInvoice(ctx context.Context, bolt11 string) (*lnbits.Invoice, error)
	ProbeFee(ctx context.Context, bolt11 string) (int64, error)
	Pay(ctx context.Context, bolt11 string) error
	PayFixedAmount(ctx context.Context, bolt11 string, amountSat int64) error
	FindOutgoingPaymentByHash(ctx context.Context, paymentHash string) (lnbits.PaymentStatus, error)
	ResolveAddress(ctx context.Context, address string, amountSat int64) (*lnbits.Invoice, error)
}

// Service holds every dependency of the balance-affecting request
// paths. It is constructed once in main and passed to the handlers; no
// package-level state.
type Service struct {
	cfg  *config.Config
	bank *ledger.Ledger
	log  *txlog.Log
	ln   Executor
}

func NewService(cfg *config.Config, bank *ledger.Ledger, log *txlog.Log, ln Executor) *Service {
	return &Service{cfg: cfg, bank: bank, log: log, ln: ln}
}

// Balance returns the user's current balance.
func (s *Service) Balance(user string) int64 {
	return s.bank.Get(user)
}

// OperatorBalance returns the accrued fee margin.
func (s *Service) OperatorBalance() int64 {
	return s.bank.OperatorGet()
}

// Tip moves amount from one user to another.
func (s *Service) Tip(from, to string, amount int64) error {
	return s.tip(from, to, amount, txlog.KindTip)
}

// EmojiTip moves the configured fixed emoji-tip amount.
func (s *Service) EmojiTip(from, to string) error {
	return s.tip(from, to, s.cfg.EmojiTipSat, txlog.KindEmojiTip)
}

func (s *Service) tip(from, to string, amount int64, kind txlog.Kind) error {
	if amount <= 0 {
		return ErrBadAmount
	}
	if from == to {
		return ErrSelfTip
	}

	ok, err := s.bank.TrySpend(from, amount)
	if err != nil {
		return fmt.Errorf("failed to debit sender: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}
	if err := s.bank.Add(to, amount); err != nil {
		return fmt.Errorf("failed to credit recipient: %w", err)
	}

	s.log.Append(kind, map[string]any{
		"from":    from,
		"to":      to,
		"amount":  amount,
		"balance": s.bank.Get(from),
	})
	return nil
}

// Deposit creates an invoice for the user and starts a watcher that
// credits the balance once the invoice settles. notify delivers the
// outcome message; its failure never affects the ledger.
func (s *Service) Deposit(ctx context.Context, user string, amount int64, notify func(string)) (*lnbits.Invoice, error) {
	if amount <= 0 {
		return nil, ErrBadAmount
	}

	inv, err := s.ln.CreateInvoice(ctx, amount, fmt.Sprintf("citadelpay deposit for %s", user))
	if err != nil {
		return nil, fmt.Errorf("failed to create deposit invoice: %w", err)
	}

	go s.watchDeposit(user, inv, notify)
	return inv, nil
}

// watchDeposit polls the invoice until it settles, expires or the
// maximum wait elapses. Completion is the only cancellation.
func (s *Service) watchDeposit(user string, inv *lnbits.Invoice, notify func(string)) {
	deadline := time.Now().Add(s.cfg.DepositMaxWait)
	ticker := time.NewTicker(s.cfg.DepositPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			notify("Deposit invoice was not paid in time.")
			return
		}

		status, err := s.ln.CheckInvoiceStatus(context.Background(), inv.PaymentHash)
		if err != nil {
			logging.Warn("deposit status poll failed",
				zap.String("user", user), zap.Error(err))
			continue
		}

		switch status {
		case lnbits.InvoicePaid:
			if err := s.bank.Add(user, inv.AmountSat); err != nil {
				logging.Error("failed to credit settled deposit",
					zap.String("user", user),
					zap.Int64("amount", inv.AmountSat),
					zap.Error(err))
				notify("Your deposit settled but could not be credited. Contact the operator.")
				return
			}
			s.log.Append(txlog.KindDeposit, map[string]any{
				"user":    user,
				"amount":  inv.AmountSat,
				"hash":    inv.PaymentHash,
				"balance": s.bank.Get(user),
			})
			notify(fmt.Sprintf("Deposit of %d sat credited. New balance: %d sat.", inv.AmountSat, s.bank.Get(user)))
			return
		case lnbits.InvoiceExpired:
			notify("Deposit invoice expired.")
			return
		case lnbits.InvoiceCancelled:
			notify("Deposit invoice was cancelled.")
			return
		}
	}
}
