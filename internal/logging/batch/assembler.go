package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/metrics"
)

// Assembler turns drained records into ordered batches and delivers them.
// lastReported never decreases: every assembled batch raises it to its last
// timestamp before the send, whether or not the send succeeds.
type Assembler struct {
	queue       *Queue
	sender      logging.LogSender
	tokens      *TokenStore
	stream      logging.StreamIdentity
	drainLimit  int
	sendTimeout time.Duration
	log         logger.Logger

	// serializes flush cycles between the delivery goroutine and Stop
	mu           sync.Mutex
	lastReported atomic.Int64
}

func NewAssembler(queue *Queue, sender logging.LogSender, tokens *TokenStore, config logging.Config, log logger.Logger) *Assembler {
	return &Assembler{
		queue:       queue,
		sender:      sender,
		tokens:      tokens,
		stream:      config.Stream,
		drainLimit:  config.DrainLimit,
		sendTimeout: config.SendTimeout,
		log:         log,
	}
}

// LastReported returns the high-water mark of assembled timestamps.
func (a *Assembler) LastReported() int64 {
	return a.lastReported.Load()
}

// Flush drains and sends batches until a drain comes back short.
func (a *Assembler) Flush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		entries := a.queue.Drain(a.drainLimit)
		metrics.SetQueueDepth(a.queue.Len())
		if len(entries) == 0 {
			return
		}
		a.send(ctx, a.assemble(entries))
		if len(entries) < a.drainLimit {
			return
		}
	}
}

func (a *Assembler) assemble(entries []logging.LogEntry) []logging.LogEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})

	last := a.lastReported.Load()
	for i := range entries {
		if entries[i].Timestamp >= last {
			break
		}
		entries[i].Timestamp = last
	}

	a.lastReported.Store(entries[len(entries)-1].Timestamp)
	return entries
}

func (a *Assembler) send(ctx context.Context, entries []logging.LogEntry) {
	if a.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.sendTimeout)
		defer cancel()
	}

	next, err := a.sender.SendBatch(ctx, a.stream, entries, a.tokens.Get())
	if err == nil {
		a.tokens.Set(next)
		metrics.AddBatchSent(len(entries))
		return
	}

	var conflict *logging.TokenConflictError
	var stale *logging.TokenStaleError
	switch {
	case errors.As(err, &conflict):
		a.log.Warn("batch already accepted, resetting sequence token to the expected one",
			logger.F("records", len(entries)))
		a.tokens.Set(conflict.Expected)
		metrics.IncTokenCorrections()
	case errors.As(err, &stale):
		a.log.Warn("invalid sequence token, resetting to the expected one",
			logger.F("records", len(entries)))
		a.tokens.Set(stale.Expected)
		metrics.IncTokenCorrections()
	default:
		a.log.Error("error writing logs, dropping batch",
			logger.F("stream", a.stream.String()), logger.F("records", len(entries)), logger.Err(err))
		metrics.IncSendErrors()
	}
}
