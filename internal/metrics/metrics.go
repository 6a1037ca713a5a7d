package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_records_enqueued_total",
		Help: "Total number of log records accepted into the ingestion queue.",
	})
	recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_records_dropped_total",
		Help: "Total number of log records discarded because the ingestion queue was full.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_queue_depth",
		Help: "Number of log records waiting in the ingestion queue.",
	})
	batchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_batches_sent_total",
		Help: "Total number of batches accepted by the remote service.",
	})
	recordsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_records_sent_total",
		Help: "Total number of log records accepted by the remote service.",
	})
	sendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_send_errors_total",
		Help: "Total number of batches dropped after a failed send.",
	})
	tokenCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_token_corrections_total",
		Help: "Total number of sequence tokens adopted from a server rejection.",
	})
	flushPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_flush_panics_total",
		Help: "Total number of flush cycles that panicked and were recovered.",
	})
	filesTailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_files_tailed_total",
		Help: "Total number of log files the daemon started tailing.",
	})
	filesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_files_failed_total",
		Help: "Total number of log files the daemon failed to tail.",
	})

	collectorsOnce sync.Once
)

// Init registers default Go/process collectors. It is safe to call multiple times.
func Init() {
	collectorsOnce.Do(func() {
		registerCollector(collectors.NewGoCollector())
		registerCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

func IncRecordsEnqueued() { recordsEnqueued.Inc() }

func IncRecordsDropped() { recordsDropped.Inc() }

// SetQueueDepth records the current ingestion queue size.
func SetQueueDepth(n int) {
	if n < 0 {
		n = 0
	}
	queueDepth.Set(float64(n))
}

// AddBatchSent counts one accepted batch of n records.
func AddBatchSent(n int) {
	batchesSent.Inc()
	if n > 0 {
		recordsSent.Add(float64(n))
	}
}

func IncSendErrors() { sendErrors.Inc() }

func IncTokenCorrections() { tokenCorrections.Inc() }

func IncFlushPanics() { flushPanics.Inc() }

func IncFilesTailed() { filesTailed.Inc() }

func IncFilesFailed() { filesFailed.Inc() }
