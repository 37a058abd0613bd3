// internal/txlog/txlog.go
package txlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corn-mrb/citadelpay/internal/logging"
	"go.uber.org/zap"
)

// Kind identifies the balance-affecting event a log entry records.
type Kind string

const (
	KindDeposit         Kind = "deposit"
	KindTip             Kind = "tip"
	KindEmojiTip        Kind = "emoji-tip"
	KindRedpacketCreate Kind = "redpacket-create"
	KindRedpacketClaim  Kind = "redpacket-claim"
	KindRedpacketRefund Kind = "redpacket-refund"
	KindWithdraw        Kind = "withdraw"
	KindOwnerWithdraw   Kind = "owner-withdraw"
)

// Entry is one immutable transaction record. Fields carries the
// event-specific attributes (participants, amounts, status, reason).
type Entry struct {
	Time   time.Time      `json:"ts"`
	Kind   Kind           `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink receives every entry in addition to the log file, e.g. the
// Postgres audit mirror. Sink failures are non-fatal.
type Sink interface {
	Record(e Entry) error
}

// Log is the append-only transaction log. Appends never fail the
// caller's operation: a write failure degrades to an operational
// warning, because the balance mutation it documents already happened.
type Log struct {
	mu    sync.Mutex
	f     *os.File
	sinks []Sink
}

// Open opens (or creates) the append-only log file at path.
func Open(path string, sinks ...Sink) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction log: %w", err)
	}
	return &Log{f: f, sinks: sinks}, nil
}

// Append writes one timestamped line and fans it out to the sinks.
func (l *Log) Append(kind Kind, fields map[string]any) {
	e := Entry{Time: time.Now().UTC(), Kind: kind, Fields: fields}

	raw, err := json.Marshal(e)
	if err != nil {
		logging.Error("failed to encode transaction log entry",
			zap.String("kind", string(kind)), zap.Error(err))
		return
	}

	l.mu.Lock()
	if _, err := l.f.Write(append(raw, '\n')); err != nil {
		logging.Error("failed to append transaction log entry",
			zap.String("kind", string(kind)), zap.Error(err))
	}
	l.mu.Unlock()

	for _, s := range l.sinks {
		if err := s.Record(e); err != nil {
			logging.Warn("transaction log sink failed",
				zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
