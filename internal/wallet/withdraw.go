// internal/wallet/withdraw.go
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/Corn-mrb/citadelpay/internal/ledger"
	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"github.com/Corn-mrb/citadelpay/pkg/lnbits"
	"go.uber.org/zap"
)

// Outcome is the single terminal state of one withdrawal attempt.
type Outcome string

const (
	// OutcomeSuccess: the executor reported the payment sent.
	OutcomeSuccess Outcome = "success"
	// OutcomeRefunded: the executor failed and its history confirms
	// nothing went out; the debit was reversed.
	OutcomeRefunded Outcome = "refunded"
	// OutcomeVerifiedSuccess: the executor reported an error but its
	// history shows the payment settled; the debit stands.
	OutcomeVerifiedSuccess Outcome = "verified_success"
	// OutcomeVerifiedPending: as above, but the payment is still in
	// flight.
	OutcomeVerifiedPending Outcome = "verified_pending"
	// OutcomeUnverified: the reconciliation check itself failed; the
	// debit is held for operator review.
	OutcomeUnverified Outcome = "unverified"
)

// WithdrawResult reports the terminal outcome of one attempt together
// with the post-attempt balance.
type WithdrawResult struct {
	Outcome Outcome
	Amount  int64
	Fee     int64
	Balance int64
	// PayErr is the executor's original error for the refunded and
	// unverified outcomes.
	PayErr error
}

// Withdraw moves amount from the user's balance to destination: a
// bolt11 invoice or a lightning address. amountOverride supplies the
// amount for amount-less invoices (0 means none given).
func (s *Service) Withdraw(ctx context.Context, user, destination string, amountOverride int64) (*WithdrawResult, error) {
	return s.withdraw(ctx, user, destination, amountOverride, txlog.KindWithdraw)
}

// OwnerWithdraw cashes out accrued fees from the operator account
// through the same reconciliation protocol.
func (s *Service) OwnerWithdraw(ctx context.Context, destination string, amountOverride int64) (*WithdrawResult, error) {
	return s.withdraw(ctx, ledger.OperatorAccount, destination, amountOverride, txlog.KindOwnerWithdraw)
}

func (s *Service) withdraw(ctx context.Context, user, destination string, amountOverride int64, kind txlog.Kind) (*WithdrawResult, error) {
	inv, amount, err := s.resolveDestination(ctx, destination, amountOverride)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrBadAmount
	}
	if amount > s.cfg.MaxWithdrawSat {
		return nil, ErrOverWithdrawLimit
	}

	fee := s.classifyFee(ctx, inv.Bolt11)
	total := amount + fee

	// Debit first, then pay. Concurrent withdrawals against the same
	// pre-debit balance cannot both pass this check.
	ok, err := s.bank.TrySpend(user, total)
	if err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}
	if err := s.bank.OperatorAdd(fee); err != nil {
		logging.Error("failed to accrue withdrawal fee", zap.Error(err))
	}

	entry := map[string]any{
		"user":        user,
		"amount":      amount,
		"fee":         fee,
		"destination": destination,
		"hash":        inv.PaymentHash,
	}
	s.appendStatus(kind, entry, "pending")

	// Exactly one submission per request. A retry after a timeout
	// could itself double-pay.
	if inv.AmountSat > 0 {
		err = s.ln.Pay(ctx, inv.Bolt11)
	} else {
		err = s.ln.PayFixedAmount(ctx, inv.Bolt11, amount)
	}

	if err == nil {
		s.appendStatus(kind, entry, "success")
		return &WithdrawResult{
			Outcome: OutcomeSuccess,
			Amount:  amount,
			Fee:     fee,
			Balance: s.bank.Get(user),
		}, nil
	}

	return s.reconcile(ctx, user, total, fee, inv.PaymentHash, kind, entry, err)
}

// reconcile resolves an indeterminate payment error against the
// executor's own transaction history. Exactly one of the four failure
// outcomes is reached.
func (s *Service) reconcile(ctx context.Context, user string, total, fee int64, paymentHash string, kind txlog.Kind, entry map[string]any, payErr error) (*WithdrawResult, error) {
	logging.Warn("payment submission failed, reconciling",
		zap.String("user", user), zap.String("hash", paymentHash), zap.Error(payErr))

	// Give the executor's bookkeeping a moment to settle.
	time.Sleep(s.cfg.VerifyDelay)

	var status lnbits.PaymentStatus
	lookupErr := retry.Do(
		func() error {
			var err error
			status, err = s.ln.FindOutgoingPaymentByHash(ctx, paymentHash)
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
	)

	if lookupErr != nil {
		// Fail safe against double payout: keep the debit, hold
		// the funds for a human.
		entry["reason"] = payErr.Error()
		s.appendStatus(kind, entry, "unverified")
		return &WithdrawResult{
			Outcome: OutcomeUnverified,
			Amount:  total - fee,
			Fee:     fee,
			Balance: s.bank.Get(user),
			PayErr:  payErr,
		}, nil
	}

	switch status {
	case lnbits.PaymentNotFound:
		// Nothing went out. Reverse the debit and the fee credit.
		if err := s.bank.Add(user, total); err != nil {
			return nil, fmt.Errorf("failed to refund withdrawal: %w", err)
		}
		if err := s.bank.OperatorSubtract(fee); err != nil {
			logging.Error("failed to reverse fee credit", zap.Error(err))
		}
		entry["reason"] = payErr.Error()
		s.appendStatus(kind, entry, "refunded")
		return &WithdrawResult{
			Outcome: OutcomeRefunded,
			Amount:  total - fee,
			Fee:     fee,
			Balance: s.bank.Get(user),
			PayErr:  payErr,
		}, nil

	case lnbits.PaymentSuccess:
		s.appendStatus(kind, entry, "verified_success")
		return &WithdrawResult{
			Outcome: OutcomeVerifiedSuccess,
			Amount:  total - fee,
			Fee:     fee,
			Balance: s.bank.Get(user),
		}, nil

	case lnbits.PaymentPending:
		s.appendStatus(kind, entry, "verified_pending")
		return &WithdrawResult{
			Outcome: OutcomeVerifiedPending,
			Amount:  total - fee,
			Fee:     fee,
			Balance: s.bank.Get(user),
		}, nil

	default:
		// An unrecognized status cannot rule out a payout. Hold the
		// debit for operator review.
		entry["reason"] = payErr.Error()
		s.appendStatus(kind, entry, "unverified")
		return &WithdrawResult{
			Outcome: OutcomeUnverified,
			Amount:  total - fee,
			Fee:     fee,
			Balance: s.bank.Get(user),
			PayErr:  payErr,
		}, nil
	}
}

// resolveDestination turns the user-supplied destination into a
// concrete invoice and the sat amount to send.
func (s *Service) resolveDestination(ctx context.Context, destination string, amountOverride int64) (*lnbits.Invoice, int64, error) {
	destination = strings.TrimSpace(destination)

	if strings.Contains(destination, "@") {
		if amountOverride <= 0 {
			return nil, 0, ErrAmountRequired
		}
		inv, err := s.ln.ResolveAddress(ctx, destination, amountOverride)
		if err != nil {
			return nil, 0, err
		}
		return inv, amountOverride, nil
	}

	inv, err := s.ln.DecodeInvoice(ctx, destination)
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode destination: %w", err)
	}
	if inv.AmountSat > 0 {
		return inv, inv.AmountSat, nil
	}
	if amountOverride <= 0 {
		return nil, 0, ErrAmountRequired
	}
	return inv, amountOverride, nil
}

// classifyFee probes the routing fee. Exactly zero means the payment
// settles internally and costs nothing; any other result, including a
// failed probe, charges the flat external fee.
func (s *Service) classifyFee(ctx context.Context, bolt11 string) int64 {
	probed, err := s.ln.ProbeFee(ctx, bolt11)
	if err != nil {
		logging.Warn("fee probe failed, charging external fee", zap.Error(err))
		return s.cfg.WithdrawFeeSat
	}
	if probed == 0 {
		return 0
	}
	return s.cfg.WithdrawFeeSat
}

func (s *Service) appendStatus(kind txlog.Kind, entry map[string]any, status string) {
	fields := make(map[string]any, len(entry)+1)
	for k, v := range entry {
		fields[k] = v
	}
	fields["status"] = status
	s.log.Append(kind, fields)
}
