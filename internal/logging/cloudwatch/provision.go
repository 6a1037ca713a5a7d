package cloudwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

type Provisioner struct {
	client logsClient
	log    logger.Logger
}

func NewProvisioner(cfg aws.Config, endpoint string, log logger.Logger) *Provisioner {
	return &Provisioner{
		client: newLogsClient(cfg, endpoint),
		log:    log,
	}
}

// EnsureStream creates the log group and stream when they are missing and
// returns the stream's upload sequence token, nil for a fresh stream.
func (p *Provisioner) EnsureStream(ctx context.Context, stream logging.StreamIdentity) (*string, error) {
	groupExists, err := p.groupExists(ctx, stream.GroupName)
	if err != nil {
		return nil, err
	}
	if !groupExists {
		p.log.Info("creating log group", logger.F("group", stream.GroupName))
		_, err := p.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
			LogGroupName: aws.String(stream.GroupName),
		})
		if err != nil && !alreadyExists(err) {
			return nil, fmt.Errorf("create log group %s: %w", stream.GroupName, err)
		}
	}

	found, token, err := p.findStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	if found {
		return token, nil
	}

	p.log.Info("creating log stream", logger.F("stream", stream.String()))
	_, err = p.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(stream.GroupName),
		LogStreamName: aws.String(stream.StreamName),
	})
	if err != nil && !alreadyExists(err) {
		return nil, fmt.Errorf("create log stream %s: %w", stream, err)
	}
	return nil, nil
}

func (p *Provisioner) groupExists(ctx context.Context, group string) (bool, error) {
	pages := cloudwatchlogs.NewDescribeLogGroupsPaginator(p.client, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(group),
	})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("describe log groups %s: %w", group, err)
		}
		for _, lg := range out.LogGroups {
			if aws.ToString(lg.LogGroupName) == group {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Provisioner) findStream(ctx context.Context, stream logging.StreamIdentity) (bool, *string, error) {
	pages := cloudwatchlogs.NewDescribeLogStreamsPaginator(p.client, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName:        aws.String(stream.GroupName),
		LogStreamNamePrefix: aws.String(stream.StreamName),
	})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return false, nil, fmt.Errorf("describe log streams %s: %w", stream, err)
		}
		for _, ls := range out.LogStreams {
			if aws.ToString(ls.LogStreamName) == stream.StreamName {
				return true, ls.UploadSequenceToken, nil
			}
		}
	}
	return false, nil, nil
}

// another agent may create the same group or stream between describe and create
func alreadyExists(err error) bool {
	var exists *types.ResourceAlreadyExistsException
	return errors.As(err, &exists)
}
