package batch

import (
	"sync/atomic"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/metrics"
)

// Queue is a bounded FIFO of pending records. Producers never block on it.
type Queue struct {
	entries chan logging.LogEntry
	full    atomic.Bool
	log     logger.Logger
}

func NewQueue(capacity int, log logger.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		entries: make(chan logging.LogEntry, capacity),
		log:     log,
	}
}

// Enqueue adds entry if there is room and reports whether it was accepted.
// The full flag flips at most once per full/clear edge, and each edge is logged once.
func (q *Queue) Enqueue(entry logging.LogEntry) bool {
	select {
	case q.entries <- entry:
		metrics.IncRecordsEnqueued()
		if q.full.CompareAndSwap(true, false) {
			q.log.Info("log queue accepting records again", logger.F("depth", len(q.entries)))
		}
		return true
	default:
		metrics.IncRecordsDropped()
		if q.full.CompareAndSwap(false, true) {
			q.log.Warn("log queue is full", logger.F("capacity", cap(q.entries)))
		}
		return false
	}
}

// Drain removes up to max records in FIFO order without blocking.
func (q *Queue) Drain(max int) []logging.LogEntry {
	out := make([]logging.LogEntry, 0, min(max, len(q.entries)))
	for len(out) < max {
		select {
		case e := <-q.entries:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

func (q *Queue) Len() int { return len(q.entries) }

func (q *Queue) Cap() int { return cap(q.entries) }

// Full reports the debounced queue-full flag.
func (q *Queue) Full() bool { return q.full.Load() }
