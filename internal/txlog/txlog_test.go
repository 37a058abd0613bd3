package txlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	entries []Entry
	err     error
}

func (c *captureSink) Record(e Entry) error {
	c.entries = append(c.entries, e)
	return c.err
}

func TestAppendWritesParseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.log")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	l.Append(KindDeposit, map[string]any{"user": "alice", "amount": 100})
	l.Append(KindWithdraw, map[string]any{"user": "alice", "status": "pending"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, sc.Err())

	require.Len(t, entries, 2)
	require.Equal(t, KindDeposit, entries[0].Kind)
	require.False(t, entries[0].Time.IsZero())
	require.Equal(t, "alice", entries[0].Fields["user"])
	require.Equal(t, KindWithdraw, entries[1].Kind)
	require.Equal(t, "pending", entries[1].Fields["status"])
}

func TestAppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.log")

	l, err := Open(path)
	require.NoError(t, err)
	l.Append(KindTip, map[string]any{"from": "a", "to": "b"})
	require.NoError(t, l.Close())

	// Reopening must append after existing entries, not truncate.
	l, err = Open(path)
	require.NoError(t, err)
	l.Append(KindTip, map[string]any{"from": "b", "to": "a"})
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}
	require.Equal(t, 2, lines)
}

func TestSinkReceivesEntries(t *testing.T) {
	sink := &captureSink{}
	l, err := Open(filepath.Join(t.TempDir(), "transactions.log"), sink)
	require.NoError(t, err)
	defer l.Close()

	l.Append(KindRedpacketCreate, map[string]any{"creator": "alice"})
	require.Len(t, sink.entries, 1)
	require.Equal(t, KindRedpacketCreate, sink.entries[0].Kind)
}

func TestSinkFailureDoesNotPanic(t *testing.T) {
	sink := &captureSink{err: os.ErrClosed}
	l, err := Open(filepath.Join(t.TempDir(), "transactions.log"), sink)
	require.NoError(t, err)
	defer l.Close()

	// A failing sink must not affect the append.
	l.Append(KindDeposit, map[string]any{"user": "alice"})
	require.Len(t, sink.entries, 1)
}
