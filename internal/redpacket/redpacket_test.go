package redpacket

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Corn-mrb/citadelpay/internal/ledger"
	"github.com/Corn-mrb/citadelpay/internal/store"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *Engine
	bank    *ledger.Ledger
	packets *store.Store
	dir     string
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	dir := t.TempDir()

	balances, err := store.Open(filepath.Join(dir, "balances.json"))
	require.NoError(t, err)
	packets, err := store.Open(filepath.Join(dir, "redpackets.json"))
	require.NoError(t, err)
	log, err := txlog.Open(filepath.Join(dir, "transactions.log"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	bank := ledger.New(balances)
	e := NewEngine(packets, bank, log, ttl, 20)
	t.Cleanup(e.Stop)

	return &fixture{engine: e, bank: bank, packets: packets, dir: dir}
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 100))

	_, err := fx.engine.Create("m1", "ch", "alice", 0, 5, "")
	require.Error(t, err)

	_, err = fx.engine.Create("m1", "ch", "alice", 10, 0, "")
	require.Error(t, err)

	_, err = fx.engine.Create("m1", "ch", "alice", 10, 21, "")
	require.Error(t, err)

	_, err = fx.engine.Create("m1", "ch", "alice", 10, 11, "")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// No mutation on any rejection.
	require.Equal(t, int64(100), fx.bank.Get("alice"))
}

// The full lifecycle scenario: fund, partial claims, expiry refund,
// post-expiry claim rejection.
func TestLifecycle(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 100))

	p, err := fx.engine.Create("m1", "ch", "alice", 10, 5, "gl hf")
	require.NoError(t, err)
	require.Equal(t, int64(50), fx.bank.Get("alice"))
	require.Equal(t, 5, p.Count)
	require.Empty(t, p.Claimers)

	for _, u := range []string{"bob", "carol", "dave"} {
		p, last, err := fx.engine.Claim("m1", u)
		require.NoError(t, err)
		require.False(t, last)
		require.Equal(t, int64(10), fx.bank.Get(u))
		require.Contains(t, p.Claimers, u)
	}

	require.NoError(t, fx.engine.Expire("m1"))
	// 2 unclaimed slots × 10 back to the creator.
	require.Equal(t, int64(70), fx.bank.Get("alice"))

	_, _, err = fx.engine.Claim("m1", "erin")
	require.ErrorIs(t, err, ErrAlreadyExpired)
	require.Equal(t, int64(0), fx.bank.Get("erin"))
}

func TestClaimErrors(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 20))

	_, _, err := fx.engine.Claim("missing", "bob")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = fx.engine.Create("m1", "ch", "alice", 10, 2, "")
	require.NoError(t, err)

	_, _, err = fx.engine.Claim("m1", "alice")
	require.ErrorIs(t, err, ErrSelfClaim)

	_, _, err = fx.engine.Claim("m1", "bob")
	require.NoError(t, err)
	_, _, err = fx.engine.Claim("m1", "bob")
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	require.Equal(t, int64(10), fx.bank.Get("bob"))

	_, last, err := fx.engine.Claim("m1", "carol")
	require.NoError(t, err)
	require.True(t, last)

	_, _, err = fx.engine.Claim("m1", "dave")
	require.ErrorIs(t, err, ErrSoldOut)
	require.Equal(t, int64(0), fx.bank.Get("dave"))
}

func TestExpireIdempotent(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 50))

	_, err := fx.engine.Create("m1", "ch", "alice", 10, 5, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), fx.bank.Get("alice"))

	require.NoError(t, fx.engine.Expire("m1"))
	require.Equal(t, int64(50), fx.bank.Get("alice"))

	// A second invocation must not double-refund.
	require.NoError(t, fx.engine.Expire("m1"))
	require.Equal(t, int64(50), fx.bank.Get("alice"))

	// Expiring an unknown packet is a no-op.
	require.NoError(t, fx.engine.Expire("missing"))
}

func TestExpireFullyClaimedRefundsNothing(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 20))

	_, err := fx.engine.Create("m1", "ch", "alice", 10, 2, "")
	require.NoError(t, err)
	_, _, err = fx.engine.Claim("m1", "bob")
	require.NoError(t, err)
	_, _, err = fx.engine.Claim("m1", "carol")
	require.NoError(t, err)

	require.NoError(t, fx.engine.Expire("m1"))
	require.Equal(t, int64(0), fx.bank.Get("alice"))

	// Conservation: claims plus refund equal the escrowed total.
	require.Equal(t, int64(20), fx.bank.Get("bob")+fx.bank.Get("carol"))
}

func TestTimerFiresExpiry(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond)
	require.NoError(t, fx.bank.Add("alice", 30))

	expired := make(chan int64, 1)
	fx.engine.OnExpired = func(p *Packet, refund int64) { expired <- refund }

	_, err := fx.engine.Create("m1", "ch", "alice", 10, 3, "")
	require.NoError(t, err)

	select {
	case refund := <-expired:
		require.Equal(t, int64(30), refund)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry timer did not fire")
	}
	require.Equal(t, int64(30), fx.bank.Get("alice"))
}

func TestRestoreTimersExpiresOverduePackets(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 50))

	_, err := fx.engine.Create("m1", "ch", "alice", 10, 5, "")
	require.NoError(t, err)
	fx.engine.Stop()

	// Simulate a restart with a TTL already in the past.
	restored := NewEngine(fx.packets, fx.bank, fx.engine.log, time.Nanosecond, 20)
	t.Cleanup(restored.Stop)
	require.NoError(t, restored.RestoreTimers())

	require.Equal(t, int64(50), fx.bank.Get("alice"))

	var p Packet
	ok, err := fx.packets.Get("m1", &p)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Expired)
}

func TestRestoreTimersRearmsOpenPackets(t *testing.T) {
	fx := newFixture(t, time.Hour)
	require.NoError(t, fx.bank.Add("alice", 50))

	_, err := fx.engine.Create("m1", "ch", "alice", 10, 5, "")
	require.NoError(t, err)
	fx.engine.Stop()

	restored := NewEngine(fx.packets, fx.bank, fx.engine.log, 100*time.Millisecond, 20)
	t.Cleanup(restored.Stop)

	expired := make(chan struct{}, 1)
	restored.OnExpired = func(p *Packet, refund int64) { expired <- struct{}{} }
	require.NoError(t, restored.RestoreTimers())

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("restored timer did not fire")
	}
	require.Equal(t, int64(50), fx.bank.Get("alice"))
}
