package infrastructure

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrifood/contract-system/shared/events"
	"github.com/agrifood/contract-system/shared/models"
)

const testTopicArn = "arn:aws:sns:us-east-1:000000000000:contract-events"

func newEvents(n int) []*events.Event {
	out := make([]*events.Event, n)
	for i := range out {
		out[i] = events.NewEvent(models.GenerateUUID(), events.ContractCreatedEvent, map[string]int{"n": i}).
			WithMetadata(events.MetadataRecipient, "buyer").
			WithMetadata(SQSMessageIDKey, "transport-only")
	}
	return out
}

func TestSNSEventPublisher_BatchesByTen(t *testing.T) {
	client := &mockSNS{}
	var sizes []int
	client.On("PublishBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			input := args.Get(1).(*sns.PublishBatchInput)
			sizes = append(sizes, len(input.PublishBatchRequestEntries))
		}).
		Return(&sns.PublishBatchOutput{}, nil)

	publisher := NewSNSEventPublisher(client, testTopicArn, nil)
	// a single batch keeps the Run callback free of concurrent appends
	require.NoError(t, publisher.Publish(context.Background(), newEvents(7)...))

	client.AssertNumberOfCalls(t, "PublishBatch", 1)
	assert.Equal(t, []int{7}, sizes)
}

func TestSNSEventPublisher_SplitsLargePublishes(t *testing.T) {
	client := &mockSNS{}
	client.On("PublishBatch", mock.Anything, mock.Anything).Return(&sns.PublishBatchOutput{}, nil)

	publisher := NewSNSEventPublisher(client, testTopicArn, nil)
	require.NoError(t, publisher.Publish(context.Background(), newEvents(23)...))

	client.AssertNumberOfCalls(t, "PublishBatch", 3)
}

func TestSNSEventPublisher_EntryShape(t *testing.T) {
	client := &mockSNS{}
	evt := newEvents(1)[0]

	client.On("PublishBatch", mock.Anything, mock.MatchedBy(func(input *sns.PublishBatchInput) bool {
		entry := input.PublishBatchRequestEntries[0]
		decoded, err := decodeEvent([]byte(aws.ToString(entry.Message)))
		if err != nil {
			return false
		}
		_, leaked := entry.MessageAttributes[SQSMessageIDKey]
		return aws.ToString(input.TopicArn) == testTopicArn &&
			aws.ToString(entry.Id) == evt.ID.String() &&
			aws.ToString(entry.MessageAttributes["topic"].StringValue) == "contract.created" &&
			aws.ToString(entry.MessageAttributes[events.MetadataRecipient].StringValue) == "buyer" &&
			!leaked &&
			decoded.ID == evt.ID
	})).Return(&sns.PublishBatchOutput{}, nil)

	publisher := NewSNSEventPublisher(client, testTopicArn, nil)
	require.NoError(t, publisher.Publish(context.Background(), evt))
	client.AssertExpectations(t)
}

func TestSNSEventPublisher_Failures(t *testing.T) {
	t.Run("client error", func(t *testing.T) {
		client := &mockSNS{}
		client.On("PublishBatch", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		err := NewSNSEventPublisher(client, testTopicArn, nil).Publish(context.Background(), newEvents(2)...)
		assert.ErrorContains(t, err, "throttled")
	})

	t.Run("partial failure", func(t *testing.T) {
		evts := newEvents(2)
		client := &mockSNS{}
		client.On("PublishBatch", mock.Anything, mock.Anything).Return(&sns.PublishBatchOutput{
			Failed: []types.BatchResultErrorEntry{{Id: aws.String(evts[1].ID.String()), Message: aws.String("too large")}},
		}, nil)

		err := NewSNSEventPublisher(client, testTopicArn, nil).Publish(context.Background(), evts...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), evts[1].ID.String())
		assert.NotContains(t, err.Error(), evts[0].ID.String())
	})

	t.Run("nothing to publish", func(t *testing.T) {
		client := &mockSNS{}
		assert.NoError(t, NewSNSEventPublisher(client, testTopicArn, nil).Publish(context.Background()))
		client.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything)
	})
}

func TestSplitToChunks(t *testing.T) {
	chunks := splitToChunks([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
	assert.Empty(t, splitToChunks([]int{}, 2))
}

func TestLogEventPublisher(t *testing.T) {
	assert.NoError(t, NewLogEventPublisher(nil).Publish(context.Background(), newEvents(2)...))
}
