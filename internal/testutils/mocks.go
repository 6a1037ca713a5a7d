package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

// SendResult scripts the outcome of one SendBatch call.
type SendResult struct {
	NextToken *string
	Err       error
	Panic     any
}

// MockLogSender records every call. Scripted results are consumed in order;
// once they run out each call succeeds with token "token-<n>".
type MockLogSender struct {
	mu          sync.Mutex
	SentBatches [][]logging.LogEntry
	SentTokens  []*string
	Streams     []logging.StreamIdentity
	Results     []SendResult
	ShouldFail  bool
	Delay       time.Duration
}

func (m *MockLogSender) SendBatch(ctx context.Context, stream logging.StreamIdentity, entries []logging.LogEntry, token *string) (*string, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]logging.LogEntry, len(entries))
	copy(batch, entries)
	m.SentBatches = append(m.SentBatches, batch)
	m.SentTokens = append(m.SentTokens, token)
	m.Streams = append(m.Streams, stream)

	if len(m.Results) > 0 {
		res := m.Results[0]
		m.Results = m.Results[1:]
		if res.Panic != nil {
			panic(res.Panic)
		}
		return res.NextToken, res.Err
	}

	if m.ShouldFail {
		return nil, fmt.Errorf("mock send failed")
	}

	next := fmt.Sprintf("token-%d", len(m.SentBatches))
	return &next, nil
}

func (m *MockLogSender) GetSentBatches() [][]logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]logging.LogEntry(nil), m.SentBatches...)
}

func (m *MockLogSender) GetSentTokens() []*string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*string(nil), m.SentTokens...)
}

func (m *MockLogSender) GetStreams() []logging.StreamIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.StreamIdentity(nil), m.Streams...)
}

// TotalSent counts entries across all recorded batches.
func (m *MockLogSender) TotalSent() int {
	total := 0
	for _, b := range m.GetSentBatches() {
		total += len(b)
	}
	return total
}

type MockBatchProcessor struct {
	Entries       []logging.LogEntry
	mu            sync.Mutex
	Reject        bool
	AddEntryCalls int
	StartCalls    int
	StopCalls     int
}

func (m *MockBatchProcessor) AddEntry(entry logging.LogEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AddEntryCalls++
	if m.Reject {
		return false
	}
	m.Entries = append(m.Entries, entry)
	return true
}

func (m *MockBatchProcessor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
}

func (m *MockBatchProcessor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
}

func (m *MockBatchProcessor) GetEntries() []logging.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.LogEntry(nil), m.Entries...)
}

func Ptr(s string) *string { return &s }

// CreateTempLogStructure lays out a few log files and returns the root directory.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"app/service.log":        "starting\n",
		"app/worker/jobs.log":    "job 1 done\n",
		"system/audit.log":       "login ok\n",
		"system/notes.txt":       "not a log\n",
		"monitoring/grafana.log": "grafana starting\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
