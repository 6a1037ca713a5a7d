package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

// Sender pushes batches to Loki. Loki has no sequence token, so the token
// passed in is returned unchanged and token errors never occur.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	log        logger.Logger
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

func NewLokiSender(baseURL string, maxRetries int, log logger.Logger) *Sender {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Sender{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		maxRetries: maxRetries,
		retryDelay: time.Second,
		log:        log,
	}
}

func (ls *Sender) SendBatch(ctx context.Context, stream logging.StreamIdentity, entries []logging.LogEntry, token *string) (*string, error) {
	if len(entries) == 0 {
		return token, nil
	}

	body, err := json.Marshal(ls.createPayload(stream, entries))
	if err != nil {
		return token, fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = retry.Do(
		func() error { return ls.sendRequest(ctx, body) },
		retry.Context(ctx),
		retry.Attempts(uint(ls.maxRetries)),
		retry.Delay(ls.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ls.log.Warn("retrying push", logger.F("attempt", n+1), logger.F("max", ls.maxRetries), logger.Err(err))
		}),
	)
	if err != nil {
		return token, fmt.Errorf("failed to send batch after %d attempts: %w", ls.maxRetries, err)
	}

	ls.log.Debug("sent batch", logger.F("records", len(entries)))
	return token, nil
}

// createPayload maps the whole batch onto a single Loki stream labelled by
// group and stream name. Loki wants nanosecond timestamps as strings.
func (ls *Sender) createPayload(stream logging.StreamIdentity, entries []logging.LogEntry) Payload {
	values := make([][2]string, 0, len(entries))
	for _, entry := range entries {
		ns := time.UnixMilli(entry.Timestamp).UnixNano()
		values = append(values, [2]string{strconv.FormatInt(ns, 10), entry.Message})
	}

	return Payload{
		Streams: []Stream{{
			Stream: map[string]string{
				"group":  stream.GroupName,
				"stream": stream.StreamName,
			},
			Values: values,
		}},
	}
}

func (ls *Sender) sendRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(responseBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Unrecoverable(err)
		}
		return err
	}

	return nil
}
