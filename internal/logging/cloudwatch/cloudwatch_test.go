package cloudwatch

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logger"
	"github.com/Chichichkin/CloudWatchLogsAgent/internal/logging"
)

type fakeLogsClient struct {
	putInputs []*cloudwatchlogs.PutLogEventsInput
	putOutput *cloudwatchlogs.PutLogEventsOutput
	putErr    error

	groupPages  []*cloudwatchlogs.DescribeLogGroupsOutput
	streamPages []*cloudwatchlogs.DescribeLogStreamsOutput
	createGroup []string
	createErr   error
	streams     []string
}

func (f *fakeLogsClient) PutLogEvents(_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.putInputs = append(f.putInputs, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return f.putOutput, nil
}

func (f *fakeLogsClient) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if len(f.groupPages) == 0 {
		return &cloudwatchlogs.DescribeLogGroupsOutput{}, nil
	}
	page := f.groupPages[0]
	f.groupPages = f.groupPages[1:]
	return page, nil
}

func (f *fakeLogsClient) DescribeLogStreams(_ context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	if len(f.streamPages) == 0 {
		return &cloudwatchlogs.DescribeLogStreamsOutput{}, nil
	}
	page := f.streamPages[0]
	f.streamPages = f.streamPages[1:]
	return page, nil
}

func (f *fakeLogsClient) CreateLogGroup(_ context.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	f.createGroup = append(f.createGroup, aws.ToString(in.LogGroupName))
	return &cloudwatchlogs.CreateLogGroupOutput{}, f.createErr
}

func (f *fakeLogsClient) CreateLogStream(_ context.Context, in *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.streams = append(f.streams, aws.ToString(in.LogStreamName))
	return &cloudwatchlogs.CreateLogStreamOutput{}, f.createErr
}

var testStream = logging.StreamIdentity{GroupName: "app", StreamName: "i-123"}

func TestSender_SendBatch(t *testing.T) {
	client := &fakeLogsClient{
		putOutput: &cloudwatchlogs.PutLogEventsOutput{NextSequenceToken: aws.String("T2")},
	}
	sender := &Sender{client: client, log: logger.NewNop()}

	next, err := sender.SendBatch(context.Background(), testStream, []logging.LogEntry{
		{Timestamp: 100, Message: "one"},
		{Timestamp: 101, Message: "two"},
	}, aws.String("T1"))

	require.NoError(t, err)
	assert.Equal(t, "T2", aws.ToString(next))

	require.Len(t, client.putInputs, 1)
	in := client.putInputs[0]
	assert.Equal(t, "app", aws.ToString(in.LogGroupName))
	assert.Equal(t, "i-123", aws.ToString(in.LogStreamName))
	assert.Equal(t, "T1", aws.ToString(in.SequenceToken))
	require.Len(t, in.LogEvents, 2)
	assert.Equal(t, int64(100), aws.ToInt64(in.LogEvents[0].Timestamp))
	assert.Equal(t, "two", aws.ToString(in.LogEvents[1].Message))
}

func TestSender_EmptyAndOversizedBatches(t *testing.T) {
	client := &fakeLogsClient{}
	sender := &Sender{client: client, log: logger.NewNop()}

	next, err := sender.SendBatch(context.Background(), testStream, nil, aws.String("T1"))
	assert.NoError(t, err)
	assert.Equal(t, "T1", aws.ToString(next))

	_, err = sender.SendBatch(context.Background(), testStream, make([]logging.LogEntry, MaxBatchCount+1), nil)
	assert.Error(t, err)
	assert.Empty(t, client.putInputs)
}

func TestSender_TranslatesTokenErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		assert func(t *testing.T, err error)
	}{
		{
			name: "data already accepted",
			err:  &types.DataAlreadyAcceptedException{ExpectedSequenceToken: aws.String("T9")},
			assert: func(t *testing.T, err error) {
				var conflict *logging.TokenConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, "T9", aws.ToString(conflict.Expected))
			},
		},
		{
			name: "invalid sequence token",
			err:  &types.InvalidSequenceTokenException{ExpectedSequenceToken: aws.String("T8")},
			assert: func(t *testing.T, err error) {
				var stale *logging.TokenStaleError
				require.ErrorAs(t, err, &stale)
				assert.Equal(t, "T8", aws.ToString(stale.Expected))
			},
		},
		{
			name: "api error",
			err:  &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
			assert: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "ThrottlingException")
				var conflict *logging.TokenConflictError
				assert.False(t, errors.As(err, &conflict))
			},
		},
		{
			name: "network error",
			err:  errors.New("dial tcp: timeout"),
			assert: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "put log events")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &Sender{client: &fakeLogsClient{putErr: tc.err}, log: logger.NewNop()}
			next, err := sender.SendBatch(context.Background(), testStream, []logging.LogEntry{{Timestamp: 1}}, aws.String("T1"))
			require.Error(t, err)
			assert.Nil(t, next)
			tc.assert(t, err)
		})
	}
}

func TestSender_RejectedEventsStillAdvanceToken(t *testing.T) {
	client := &fakeLogsClient{
		putOutput: &cloudwatchlogs.PutLogEventsOutput{
			NextSequenceToken:     aws.String("T2"),
			RejectedLogEventsInfo: &types.RejectedLogEventsInfo{TooOldLogEventEndIndex: aws.Int32(0)},
		},
	}
	sender := &Sender{client: client, log: logger.NewNop()}

	next, err := sender.SendBatch(context.Background(), testStream, []logging.LogEntry{{Timestamp: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "T2", aws.ToString(next))
}

func TestProvisioner_ExistingGroupAndStream(t *testing.T) {
	client := &fakeLogsClient{
		groupPages: []*cloudwatchlogs.DescribeLogGroupsOutput{{
			LogGroups: []types.LogGroup{{LogGroupName: aws.String("app-old")}, {LogGroupName: aws.String("app")}},
		}},
		streamPages: []*cloudwatchlogs.DescribeLogStreamsOutput{{
			LogStreams: []types.LogStream{
				{LogStreamName: aws.String("i-1234"), UploadSequenceToken: aws.String("wrong")},
				{LogStreamName: aws.String("i-123"), UploadSequenceToken: aws.String("T5")},
			},
		}},
	}
	p := &Provisioner{client: client, log: logger.NewNop()}

	token, err := p.EnsureStream(context.Background(), testStream)
	require.NoError(t, err)
	assert.Equal(t, "T5", aws.ToString(token))
	assert.Empty(t, client.createGroup)
	assert.Empty(t, client.streams)
}

func TestProvisioner_CreatesMissingGroupAndStream(t *testing.T) {
	client := &fakeLogsClient{
		groupPages: []*cloudwatchlogs.DescribeLogGroupsOutput{{
			LogGroups: []types.LogGroup{{LogGroupName: aws.String("application")}},
		}},
	}
	p := &Provisioner{client: client, log: logger.NewNop()}

	token, err := p.EnsureStream(context.Background(), testStream)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.Equal(t, []string{"app"}, client.createGroup)
	assert.Equal(t, []string{"i-123"}, client.streams)
}

func TestProvisioner_ToleratesConcurrentCreation(t *testing.T) {
	client := &fakeLogsClient{createErr: &types.ResourceAlreadyExistsException{}}
	p := &Provisioner{client: client, log: logger.NewNop()}

	token, err := p.EnsureStream(context.Background(), testStream)
	assert.NoError(t, err)
	assert.Nil(t, token)
}

func TestProvisioner_CreateFailure(t *testing.T) {
	client := &fakeLogsClient{createErr: errors.New("access denied")}
	p := &Provisioner{client: client, log: logger.NewNop()}

	_, err := p.EnsureStream(context.Background(), testStream)
	assert.ErrorContains(t, err, "create log group app")
}

type fakeMetadataClient struct {
	body string
	err  error
	path string
}

func (f *fakeMetadataClient) GetMetadata(_ context.Context, in *imds.GetMetadataInput, _ ...func(*imds.Options)) (*imds.GetMetadataOutput, error) {
	f.path = in.Path
	if f.err != nil {
		return nil, f.err
	}
	return &imds.GetMetadataOutput{Content: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestInstanceID(t *testing.T) {
	fake := &fakeMetadataClient{body: "i-0abc\n"}
	orig := newMetadataClient
	newMetadataClient = func(aws.Config) metadataClient { return fake }
	defer func() { newMetadataClient = orig }()

	id, err := InstanceID(context.Background(), aws.Config{})
	require.NoError(t, err)
	assert.Equal(t, "i-0abc", id)
	assert.Equal(t, "instance-id", fake.path)

	fake.body = " "
	_, err = InstanceID(context.Background(), aws.Config{})
	assert.Error(t, err)

	fake.err = errors.New("no imds")
	_, err = InstanceID(context.Background(), aws.Config{})
	assert.ErrorContains(t, err, "get instance id")
}

func TestNewSenderUsesClientFactory(t *testing.T) {
	fake := &fakeLogsClient{}
	var gotEndpoint string
	orig := newLogsClient
	newLogsClient = func(_ aws.Config, endpoint string) logsClient {
		gotEndpoint = endpoint
		return fake
	}
	defer func() { newLogsClient = orig }()

	s := NewSender(aws.Config{}, "http://localhost:4566", logger.NewNop())
	assert.Same(t, fake, s.client)
	assert.Equal(t, "http://localhost:4566", gotEndpoint)

	p := NewProvisioner(aws.Config{}, "", logger.NewNop())
	assert.Same(t, fake, p.client)
}
