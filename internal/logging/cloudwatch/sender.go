package cloudwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

// Sender implements logging.LogSender over PutLogEvents.
type Sender struct {
	client logsClient
	log    logger.Logger
}

func NewSender(cfg aws.Config, endpoint string, log logger.Logger) *Sender {
	return &Sender{
		client: newLogsClient(cfg, endpoint),
		log:    log,
	}
}

func (s *Sender) SendBatch(ctx context.Context, stream logging.StreamIdentity, entries []logging.LogEntry, token *string) (*string, error) {
	if len(entries) == 0 {
		return token, nil
	}
	if len(entries) > MaxBatchCount {
		return token, fmt.Errorf("batch of %d events exceeds the %d event limit", len(entries), MaxBatchCount)
	}

	events := make([]types.InputLogEvent, len(entries))
	for i, e := range entries {
		events[i] = types.InputLogEvent{
			Timestamp: aws.Int64(e.Timestamp),
			Message:   aws.String(e.Message),
		}
	}

	out, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(stream.GroupName),
		LogStreamName: aws.String(stream.StreamName),
		LogEvents:     events,
		SequenceToken: token,
	})
	if err != nil {
		return nil, translateError(err)
	}

	if info := out.RejectedLogEventsInfo; info != nil {
		s.log.Warn("some log events were rejected",
			logger.F("stream", stream.String()),
			logger.F("too_old_end_index", aws.ToInt32(info.TooOldLogEventEndIndex)),
			logger.F("too_new_start_index", aws.ToInt32(info.TooNewLogEventStartIndex)),
			logger.F("expired_end_index", aws.ToInt32(info.ExpiredLogEventEndIndex)))
	}

	s.log.Debug("sent batch", logger.F("stream", stream.String()), logger.F("records", len(entries)))
	return out.NextSequenceToken, nil
}

func translateError(err error) error {
	var accepted *types.DataAlreadyAcceptedException
	if errors.As(err, &accepted) {
		return &logging.TokenConflictError{Expected: accepted.ExpectedSequenceToken}
	}

	var invalid *types.InvalidSequenceTokenException
	if errors.As(err, &invalid) {
		return &logging.TokenStaleError{Expected: invalid.ExpectedSequenceToken}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("put log events: %s: %w", apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("put log events: %w", err)
}
