package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/metrics"
)

type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EngineState is a point-in-time view of the processor.
type EngineState struct {
	QueueDepth            int
	LastReportedTimestamp int64
	QueueFull             bool
	Shutdown              bool
	State                 State
}

type Option func(*Processor)

func WithLogger(l logger.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithInitialToken seeds the sequence token, usually from stream provisioning.
func WithInitialToken(token *string) Option {
	return func(p *Processor) { p.initialToken = token }
}

// Processor owns the delivery goroutine. Producers only talk to it through
// AddEntry and Stop; the token and high-water mark are written by flush cycles alone.
type Processor struct {
	ctx          context.Context
	config       logging.Config
	queue        *Queue
	tokens       *TokenStore
	assembler    *Assembler
	log          logger.Logger
	initialToken *string

	wake     chan struct{}
	done     chan struct{}
	shutdown atomic.Bool
	started  atomic.Bool
	state    atomic.Int32
	stopOnce sync.Once
}

func NewBatchProcessor(ctx context.Context, sender logging.LogSender, config logging.Config, opts ...Option) *Processor {
	bp := &Processor{
		ctx:    ctx,
		config: config,
		log:    logger.NewNop(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bp)
	}

	base := bp.log
	bp.log = base.Named("delivery")
	bp.queue = NewQueue(config.QueueCapacity, base.Named("queue"))
	bp.tokens = NewTokenStore(bp.initialToken)
	bp.assembler = NewAssembler(bp.queue, sender, bp.tokens, config, bp.log)
	return bp
}

func (bp *Processor) AddEntry(entry logging.LogEntry) bool {
	return bp.queue.Enqueue(entry)
}

func (bp *Processor) Start() {
	if !bp.started.CompareAndSwap(false, true) {
		return
	}
	bp.log.Info("starting delivery", logger.F("stream", bp.config.Stream.String()))
	go bp.run()
}

// Stop wakes the delivery goroutine, waits up to ShutdownTimeout for it to
// drain, then flushes whatever is left on the calling goroutine.
// Concurrent callers block until the first Stop returns.
func (bp *Processor) Stop() {
	bp.stopOnce.Do(func() {
		bp.shutdown.Store(true)
		bp.signal()

		if bp.started.Load() {
			timer := time.NewTimer(bp.config.ShutdownTimeout)
			select {
			case <-bp.done:
			case <-timer.C:
				bp.log.Warn("delivery goroutine did not stop in time",
					logger.F("timeout", bp.config.ShutdownTimeout))
			}
			timer.Stop()
		}

		if bp.queue.Len() > 0 {
			bp.flush()
		}
		bp.state.Store(int32(Stopped))
	})
}

// Token returns the sequence token the next send will use.
func (bp *Processor) Token() *string {
	return bp.tokens.Get()
}

func (bp *Processor) State() State {
	return State(bp.state.Load())
}

func (bp *Processor) Snapshot() EngineState {
	return EngineState{
		QueueDepth:            bp.queue.Len(),
		LastReportedTimestamp: bp.assembler.LastReported(),
		QueueFull:             bp.queue.Full(),
		Shutdown:              bp.shutdown.Load(),
		State:                 bp.State(),
	}
}

func (bp *Processor) signal() {
	select {
	case bp.wake <- struct{}{}:
	default:
	}
}

func (bp *Processor) run() {
	defer close(bp.done)

	bp.log.Info("draining queue periodically",
		logger.F("stream", bp.config.Stream.String()), logger.F("period", bp.config.FlushPeriod))

	for !bp.shutdown.Load() {
		bp.flush()
		if !bp.shutdown.Load() && bp.queue.Len() < bp.config.HighWaterMark {
			bp.sleep()
		}
	}

	bp.state.Store(int32(Draining))
	for bp.queue.Len() > 0 {
		bp.flush()
	}
	bp.state.Store(int32(Stopped))
}

// sleep waits for the flush period, an explicit wake or parent cancellation.
func (bp *Processor) sleep() {
	timer := time.NewTimer(bp.config.FlushPeriod)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-bp.wake:
	case <-bp.ctx.Done():
		bp.shutdown.Store(true)
	}
}

func (bp *Processor) flush() {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncFlushPanics()
			bp.log.Error("flush cycle panicked", logger.F("panic", r))
		}
	}()
	bp.assembler.Flush(context.WithoutCancel(bp.ctx))
}
