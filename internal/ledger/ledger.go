// internal/ledger/ledger.go
package ledger

import (
	"fmt"
	"sync"

	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/store"
	"go.uber.org/zap"
)

// OperatorAccount is the reserved balance key that accrues withdrawal
// fees. It is never handed out as a user identifier.
const OperatorAccount = "operator"

// Ledger maps user identifiers to non-negative sat balances. The mutex
// spans every check-and-mutate sequence, so two operations on the same
// account can never observe a stale balance. It is never held across
// external I/O other than the store's own file write.
type Ledger struct {
	mu    sync.Mutex
	store *store.Store
}

func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

// Get returns the balance for user, 0 for unknown users. Reading does
// not create an account.
func (l *Ledger) Get(user string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(user)
}

// Add credits user by amount and persists. amount must be >= 0.
func (l *Ledger) Add(user string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("cannot add negative amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Set(user, l.balance(user)+amount)
}

// Subtract debits user by amount, flooring the balance at zero. The
// floor is a deliberate clamp, not validation: callers check sufficiency
// before calling (or use TrySpend). A clamp that actually fires means a
// caller skipped its check, so it is logged loudly.
func (l *Ledger) Subtract(user string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("cannot subtract negative amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(user)
	next := balance - amount
	if next < 0 {
		logging.Warn("subtraction clamped at zero",
			zap.String("user", user),
			zap.Int64("balance", balance),
			zap.Int64("amount", amount),
		)
		next = 0
	}
	return l.store.Set(user, next)
}

// TrySpend debits user by amount only if the balance covers it, as a
// single atomic check-and-mutate. It reports whether the debit happened.
func (l *Ledger) TrySpend(user string, amount int64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("cannot spend negative amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(user)
	if balance < amount {
		return false, nil
	}
	if err := l.store.Set(user, balance-amount); err != nil {
		return false, err
	}
	return true, nil
}

// OperatorGet returns the accrued fee balance.
func (l *Ledger) OperatorGet() int64 {
	return l.Get(OperatorAccount)
}

// OperatorAdd accrues fee margin. Non-positive amounts are a no-op.
func (l *Ledger) OperatorAdd(amount int64) error {
	if amount <= 0 {
		return nil
	}
	return l.Add(OperatorAccount, amount)
}

// OperatorSubtract reverses previously accrued fees, clamped at zero
// like Subtract. Used when a withdrawal's fee credit is rolled back.
func (l *Ledger) OperatorSubtract(amount int64) error {
	return l.Subtract(OperatorAccount, amount)
}

// OperatorReset clears the accrued fee balance.
func (l *Ledger) OperatorReset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Set(OperatorAccount, int64(0))
}

// balance reads the persisted balance without locking. Callers hold
// l.mu.
func (l *Ledger) balance(user string) int64 {
	var balance int64
	ok, err := l.store.Get(user, &balance)
	if err != nil {
		logging.Error("failed to read balance", zap.String("user", user), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	return balance
}
