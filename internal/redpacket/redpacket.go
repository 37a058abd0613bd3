// internal/redpacket/redpacket.go
package redpacket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Corn-mrb/citadelpay/internal/ledger"
	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/store"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"go.uber.org/zap"
)

var (
	ErrNotFound            = errors.New("redpacket not found")
	ErrAlreadyExpired      = errors.New("redpacket already expired")
	ErrSelfClaim           = errors.New("cannot claim your own redpacket")
	ErrAlreadyClaimed      = errors.New("redpacket already claimed by this user")
	ErrSoldOut             = errors.New("redpacket has no slots left")
	ErrInsufficientBalance = errors.New("insufficient balance to fund redpacket")
)

// Packet is a pre-funded, capacity-limited, time-boxed group giveaway.
// It is keyed by the ID of the chat message announcing it. The escrowed
// total (PerAmount × Count) leaves the creator's balance at creation,
// so claims only move funds out of escrow.
type Packet struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	Creator   string    `json:"creator"`
	PerAmount int64     `json:"per_amount"`
	Count     int       `json:"count"`
	Claimers  []string  `json:"claimers"`
	CreatedAt time.Time `json:"created_at"`
	Expired   bool      `json:"expired"`
	Memo      string    `json:"memo,omitempty"`
}

// Engine manages the lifecycle of every packet: funding, first-come
// claims, and the one-shot expiry that refunds the unclaimed remainder.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	bank   *ledger.Ledger
	log    *txlog.Log
	ttl    time.Duration
	maxCnt int
	timers map[string]*time.Timer

	// OnExpired is a fire-and-forget notification hook for the
	// presentation layer. It must not affect ledger state.
	OnExpired func(p *Packet, refund int64)
}

func NewEngine(st *store.Store, bank *ledger.Ledger, log *txlog.Log, ttl time.Duration, maxCount int) *Engine {
	return &Engine{
		store:  st,
		bank:   bank,
		log:    log,
		ttl:    ttl,
		maxCnt: maxCount,
		timers: make(map[string]*time.Timer),
	}
}

// Create funds a new packet: debits the creator by perAmount × count,
// persists the record and arms the expiry timer.
func (e *Engine) Create(messageID, channelID, creator string, perAmount int64, count int, memo string) (*Packet, error) {
	if perAmount <= 0 {
		return nil, fmt.Errorf("per-claim amount must be positive, got %d", perAmount)
	}
	if count <= 0 {
		return nil, fmt.Errorf("slot count must be positive, got %d", count)
	}
	if count > e.maxCnt {
		return nil, fmt.Errorf("slot count %d exceeds maximum %d", count, e.maxCnt)
	}

	total := perAmount * int64(count)
	ok, err := e.bank.TrySpend(creator, total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	p := &Packet{
		MessageID: messageID,
		ChannelID: channelID,
		Creator:   creator,
		PerAmount: perAmount,
		Count:     count,
		Claimers:  []string{},
		CreatedAt: time.Now().UTC(),
		Memo:      memo,
	}
	if err := e.store.Set(messageID, p); err != nil {
		// The debit is already durable; give it back rather than
		// strand escrow with no record.
		if addErr := e.bank.Add(creator, total); addErr != nil {
			logging.Error("failed to return escrow after create failure",
				zap.String("packet", messageID), zap.Error(addErr))
		}
		return nil, fmt.Errorf("failed to persist redpacket: %w", err)
	}

	e.log.Append(txlog.KindRedpacketCreate, map[string]any{
		"packet":     messageID,
		"creator":    creator,
		"per_amount": perAmount,
		"count":      count,
		"total":      total,
		"memo":       memo,
	})

	e.armTimer(messageID, e.ttl)
	return p, nil
}

// Claim gives claimant one slot. It reports the updated packet and
// whether this claim filled the last slot (informational only: filling
// all slots does not trigger refund logic, only the expiry timer does).
func (e *Engine) Claim(messageID, claimant string) (*Packet, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.load(messageID)
	if err != nil {
		return nil, false, err
	}
	if p.Expired {
		return nil, false, ErrAlreadyExpired
	}
	if claimant == p.Creator {
		return nil, false, ErrSelfClaim
	}
	for _, c := range p.Claimers {
		if c == claimant {
			return nil, false, ErrAlreadyClaimed
		}
	}
	if len(p.Claimers) >= p.Count {
		return nil, false, ErrSoldOut
	}

	p.Claimers = append(p.Claimers, claimant)
	if err := e.store.Set(messageID, p); err != nil {
		return nil, false, fmt.Errorf("failed to persist claim: %w", err)
	}
	if err := e.bank.Add(claimant, p.PerAmount); err != nil {
		return nil, false, fmt.Errorf("failed to credit claimant: %w", err)
	}

	e.log.Append(txlog.KindRedpacketClaim, map[string]any{
		"packet":   messageID,
		"claimant": claimant,
		"amount":   p.PerAmount,
		"balance":  e.bank.Get(claimant),
		"slot":     len(p.Claimers),
	})

	return p, len(p.Claimers) == p.Count, nil
}

// Expire refunds the unclaimed remainder to the creator and closes the
// packet. It is idempotent: the expired flag on the freshly read record
// is the sole guard, so a timer firing after restart recovery already
// ran is harmless. Unknown packets are a no-op.
func (e *Engine) Expire(messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.load(messageID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Expired {
		return nil
	}

	// Flag first, refund second: a duplicate invocation must see the
	// flag before any credit can be repeated.
	p.Expired = true
	if err := e.store.Set(messageID, p); err != nil {
		return fmt.Errorf("failed to persist expiry: %w", err)
	}

	if t, ok := e.timers[messageID]; ok {
		t.Stop()
		delete(e.timers, messageID)
	}

	refund := int64(p.Count-len(p.Claimers)) * p.PerAmount
	if refund > 0 {
		if err := e.bank.Add(p.Creator, refund); err != nil {
			return fmt.Errorf("failed to refund creator: %w", err)
		}
		e.log.Append(txlog.KindRedpacketRefund, map[string]any{
			"packet":  messageID,
			"creator": p.Creator,
			"refund":  refund,
			"claimed": len(p.Claimers),
			"count":   p.Count,
		})
	}

	if e.OnExpired != nil {
		go e.OnExpired(p, refund)
	}
	return nil
}

// RestoreTimers re-arms expiry for every open packet after a restart.
// Packets already past their deadline are expired immediately, so a
// crash never leaves an overdue packet un-refunded.
func (e *Engine) RestoreTimers() error {
	for _, key := range e.store.Keys() {
		var p Packet
		ok, err := e.store.Get(key, &p)
		if err != nil {
			return fmt.Errorf("failed to read redpacket %q: %w", key, err)
		}
		if !ok || p.Expired {
			continue
		}

		remaining := time.Until(p.CreatedAt.Add(e.ttl))
		if remaining <= 0 {
			if err := e.Expire(key); err != nil {
				return err
			}
			logging.Info("expired overdue redpacket on startup", zap.String("packet", key))
			continue
		}
		e.armTimer(key, remaining)
		logging.Info("re-armed redpacket expiry",
			zap.String("packet", key), zap.Duration("remaining", remaining))
	}
	return nil
}

// Stop cancels all pending timers, for shutdown and tests.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func (e *Engine) armTimer(messageID string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[messageID] = time.AfterFunc(d, func() {
		if err := e.Expire(messageID); err != nil {
			logging.Error("redpacket expiry failed",
				zap.String("packet", messageID), zap.Error(err))
		}
	})
}

// load reads the packet fresh from the store. Callers hold e.mu.
func (e *Engine) load(messageID string) (*Packet, error) {
	var p Packet
	ok, err := e.store.Get(messageID, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to read redpacket: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
