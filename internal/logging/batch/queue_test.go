package batch

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

// syncBuffer lets the diagnostic logger be written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (logger.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return logger.NewDiagnostic(buf, zapcore.DebugLevel), buf
}

func TestQueue_FullFlagTransitionsOnce(t *testing.T) {
	log, out := newTestLogger()
	q := NewQueue(1, log.Named("queue"))

	assert.True(t, q.Enqueue(logging.LogEntry{Timestamp: 1, Message: "a"}))
	assert.False(t, q.Full())

	assert.False(t, q.Enqueue(logging.LogEntry{Timestamp: 2, Message: "b"}))
	assert.True(t, q.Full())
	assert.False(t, q.Enqueue(logging.LogEntry{Timestamp: 3, Message: "c"}))
	assert.True(t, q.Full(), "repeated rejections keep the flag set")

	assert.Equal(t, 1, strings.Count(out.String(), "log queue is full"))

	drained := q.Drain(10)
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].Message, "queued record survives rejections")
	assert.True(t, q.Full(), "flag clears only on the next successful enqueue")

	assert.True(t, q.Enqueue(logging.LogEntry{Timestamp: 4, Message: "d"}))
	assert.False(t, q.Full())
	assert.Equal(t, 1, strings.Count(out.String(), "log queue accepting records again"))
}

func TestQueue_DrainIsFIFOAndBounded(t *testing.T) {
	q := NewQueue(10, logger.NewNop())
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(logging.LogEntry{Timestamp: int64(100 - i)}))
	}

	first := q.Drain(3)
	require.Len(t, first, 3)
	assert.Equal(t, int64(100), first[0].Timestamp)
	assert.Equal(t, int64(98), first[2].Timestamp)
	assert.Equal(t, 2, q.Len())

	rest := q.Drain(3)
	assert.Len(t, rest, 2)
	assert.Empty(t, q.Drain(3))
	assert.Empty(t, q.Drain(0))
}

func TestQueue_ConcurrentProducersNeverBlock(t *testing.T) {
	q := NewQueue(100, logger.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if q.Enqueue(logging.LogEntry{Timestamp: int64(i)}) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, accepted)
	assert.Equal(t, 100, q.Len())
	assert.True(t, q.Full())
}

func TestNewQueue_MinimumCapacity(t *testing.T) {
	q := NewQueue(0, logger.NewNop())
	assert.Equal(t, 1, q.Cap())
}

func TestTokenStore_CopiesValue(t *testing.T) {
	v := "T1"
	s := NewTokenStore(&v)
	v = "mutated"
	require.NotNil(t, s.Get())
	assert.Equal(t, "T1", *s.Get())

	s.Set(nil)
	assert.Nil(t, s.Get())
}
