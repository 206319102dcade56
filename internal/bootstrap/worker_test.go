package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/logging"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockMatcher struct {
	mock.Mock
}

func (m *MockMatcher) ProcessBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockMatcher) GetBookingRequest(ctx context.Context, id string) (*domain.BookingRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingRequest), args.Error(1)
}

func (m *MockMatcher) SweepStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Int(0), args.Error(1)
}

func TestTriggerHandler_ProcessesRequest(t *testing.T) {
	matcher := &MockMatcher{}
	matcher.On("ProcessBookingRequest", mock.Anything, "br-1").Return(&domain.BookingRequest{ID: "br-1"}, nil).Once()
	handle := TriggerHandler(matcher, logging.Discard())

	err := handle(context.Background(), kafkaGo.Message{Value: []byte(`{"booking_request_id":"br-1"}`)})
	assert.NoError(t, err)
	matcher.AssertExpectations(t)
}

func TestTriggerHandler_MatcherErrorDoesNotStopConsumer(t *testing.T) {
	matcher := &MockMatcher{}
	matcher.On("ProcessBookingRequest", mock.Anything, "br-1").Return(nil, errors.New("upstream unavailable")).Once()
	handle := TriggerHandler(matcher, logging.Discard())

	assert.NoError(t, handle(context.Background(), kafkaGo.Message{Key: []byte("br-1")}))
}

func TestTriggerHandler_SkipsGarbage(t *testing.T) {
	matcher := &MockMatcher{}
	handle := TriggerHandler(matcher, logging.Discard())

	assert.NoError(t, handle(context.Background(), kafkaGo.Message{Value: []byte("{not json")}))
	matcher.AssertNotCalled(t, "ProcessBookingRequest", mock.Anything, mock.Anything)
}

func TestTriggerHandler_CancelledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	matcher := &MockMatcher{}
	matcher.On("ProcessBookingRequest", mock.Anything, "br-1").Return(nil, context.Canceled).Once()
	handle := TriggerHandler(matcher, logging.Discard())

	assert.ErrorIs(t, handle(ctx, kafkaGo.Message{Key: []byte("br-1")}), context.Canceled)
}

func TestRunSweeper_SweepsUntilCancelled(t *testing.T) {
	matcher := &MockMatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan struct{}, 1)
	matcher.On("SweepStale", mock.Anything, mock.Anything, 25).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(1, nil)

	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, matcher, 5*time.Millisecond, time.Minute, 25, logging.Discard())
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
