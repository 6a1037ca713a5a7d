// Package daemon discovers application log files and feeds every new line
// to the batch processor.
package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hpcloud/tail"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging/format"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/metrics"
)

type LogDaemonService struct {
	config         Config
	batchProcessor logging.BatchProcessor
	formatter      format.Formatter
	log            logger.Logger

	tailersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	mu        sync.Mutex
	seenFiles map[string]struct{}
	rejected  int
}

type Config struct {
	LogRootPath  string
	Pattern      string
	ScanInterval time.Duration
	NodeName     string
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// Whence a newly discovered file is read from; io.SeekEnd skips existing content
	Whence int
}

func NewLogDaemonService(ctx context.Context, config Config, batchProcessor logging.BatchProcessor, formatter format.Formatter, log logger.Logger) *LogDaemonService {
	nCtx, cancel := context.WithCancel(ctx)

	return &LogDaemonService{
		config:         config,
		batchProcessor: batchProcessor,
		formatter:      formatter,
		log:            log,
		ctx:            nCtx,
		cancel:         cancel,
		seenFiles:      make(map[string]struct{}),
	}
}

func (s *LogDaemonService) Start() {
	s.log.Info("starting log daemon service",
		logger.F("root", s.config.LogRootPath), logger.F("pattern", s.config.Pattern))

	s.scanFiles()

	s.subServicesWg.Add(1)
	go s.scanner()
}

func (s *LogDaemonService) Stop() {
	s.log.Info("stopping log daemon service")
	s.cancel()

	s.subServicesWg.Wait()
	s.tailersWg.Wait()

	s.log.Info("log daemon service stopped", logger.F("rejected_lines", s.Rejected()))
}

// Rejected counts lines the batch processor refused because its queue was full.
func (s *LogDaemonService) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *LogDaemonService) TailedFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seenFiles)
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.Warn("error discovering log files", logger.Err(err))
		return
	}

	for _, file := range files {
		s.mu.Lock()
		_, seen := s.seenFiles[file]
		if !seen {
			s.seenFiles[file] = struct{}{}
		}
		s.mu.Unlock()

		if seen || s.ctx.Err() != nil {
			continue
		}

		s.tailersWg.Add(1)
		go s.tailFile(file)
	}
}

func (s *LogDaemonService) tailFile(filePath string) {
	defer s.tailersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("file processing panicked", logger.F("file", filePath), logger.F("panic", r))
			metrics.IncFilesFailed()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: s.config.Whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.log.Warn("failed to tail file", logger.F("file", filePath), logger.Err(err))
		metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer t.Stop()

	metrics.IncFilesTailed()
	s.log.Debug("tailing file", logger.F("file", filePath))

	labels := s.extractLabels(filePath)
	checkTicker := time.NewTicker(time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.Warn("error reading file", logger.F("file", filePath), logger.Err(line.Err))
				continue
			}

			entry := s.formatter.Format(format.Event{
				Time:   line.Time,
				Line:   line.Text,
				File:   filePath,
				Labels: labels,
			})
			if !s.batchProcessor.AddEntry(entry) {
				s.mu.Lock()
				s.rejected++
				s.mu.Unlock()
			}
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.mu.Lock()
				delete(s.seenFiles, filePath)
				s.mu.Unlock()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.Debug("error accessing path", logger.F("path", path), logger.Err(err))
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(s.config.Pattern, info.Name()); ok {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

func (s *LogDaemonService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}
	if rel, err := filepath.Rel(s.config.LogRootPath, filepath.Dir(filePath)); err == nil && rel != "." {
		labels["dir"] = filepath.ToSlash(rel)
	}
	return labels
}
