package logging

import (
	"context"
	"fmt"
	"time"
)

// LogEntry is a single formatted record. Timestamp is in milliseconds since the epoch.
type LogEntry struct {
	Timestamp int64
	Message   string
}

// StreamIdentity names the remote destination of every batch.
type StreamIdentity struct {
	GroupName  string
	StreamName string
}

func (s StreamIdentity) String() string {
	return fmt.Sprintf("%s:%s", s.GroupName, s.StreamName)
}

type BatchProcessor interface {
	// AddEntry never blocks; it reports false when the entry was discarded.
	AddEntry(entry LogEntry) bool
	Start()
	Stop()
}

type LogSender interface {
	// SendBatch delivers entries with the given sequence token and returns the
	// token expected by the next call.
	SendBatch(ctx context.Context, stream StreamIdentity, entries []LogEntry, token *string) (*string, error)
}

type Config struct {
	Stream          StreamIdentity
	QueueCapacity   int
	FlushPeriod     time.Duration
	DrainLimit      int
	HighWaterMark   int
	ShutdownTimeout time.Duration
	SendTimeout     time.Duration
}

// Millis converts t to the millisecond timestamp used by LogEntry.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
