package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

type fakeReader struct {
	queue     []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestProducer_PublishEncodesJSON(t *testing.T) {
	writer := &MockWriter{}
	p := &Producer{writer: writer, logger: logging.Discard()}
	ctx := context.Background()

	writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || msgs[0].Topic != "booking-events" || string(msgs[0].Key) != "br-1" {
			return false
		}
		var ev BookingEvent
		return json.Unmarshal(msgs[0].Value, &ev) == nil && ev.Type == EventBookingDone
	})).Return(nil).Once()

	err := p.Publish(ctx, "booking-events", "br-1", BookingEvent{Type: EventBookingDone, BookingRequestID: "br-1"})
	require.NoError(t, err)
	writer.AssertExpectations(t)
}

func TestProducer_PublishWrapsWriteError(t *testing.T) {
	writer := &MockWriter{}
	p := &Producer{writer: writer, logger: logging.Discard()}
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	err := p.Publish(context.Background(), "t", "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestConsumer_CommitsAfterHandler(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"booking_request_id":"br-1"}`)},
		{Offset: 2, Key: []byte("br-2")},
	}}
	c := &Consumer{reader: reader, logger: logging.Discard()}

	var seen []string
	err := c.Consume(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		trigger, err := DecodeTrigger(msg)
		require.NoError(t, err)
		seen = append(seen, trigger.BookingRequestID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"br-1", "br-2"}, seen)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Offset: 7, Key: []byte("br-7")}}}
	c := &Consumer{reader: reader, logger: logging.Discard()}

	err := c.Consume(context.Background(), func(ctx context.Context, msg kafka.Message) error {
		return errors.New("db unavailable")
	})

	assert.ErrorContains(t, err, "offset 7")
	assert.Empty(t, reader.committed)
}

func TestDecodeTrigger_Rejects(t *testing.T) {
	_, err := DecodeTrigger(kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)

	_, err = DecodeTrigger(kafka.Message{Value: []byte(`{}`)})
	assert.Error(t, err)
}
