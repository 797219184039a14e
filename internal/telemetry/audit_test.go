package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-sync/internal/mocks"
	"chat-sync/internal/telemetry"
)

func TestEmitActionPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-sync", "test")

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(telemetry.AuditEnvelope)
		return ok &&
			env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == "alice" &&
			env.Payload.Action == telemetry.ActionMessageDeleted &&
			env.Payload.RoomID == "room-1" &&
			env.Payload.MessageID == "m1"
	})).Return(nil).Once()

	emitter.EmitAction(context.Background(), telemetry.ActionMessageDeleted, "req-1", "alice", "room-1", "m1")

	pub.AssertExpectations(t)
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-sync", "test")
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("closed")).Once()

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "hello", "", nil)
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	assert.NotPanics(t, func() {
		emitter.EmitAction(context.Background(), telemetry.ActionRoomCreated, "", "alice", "room-1", "")
	})
}

func TestRequestIDContext(t *testing.T) {
	ctx := telemetry.WithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", telemetry.RequestIDFromContext(ctx))
	assert.Empty(t, telemetry.RequestIDFromContext(context.Background()))
}
