package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type recordsStub struct {
	messages map[string]models.Message
	err      error
	calls    int
}

func (r *recordsStub) GetMessage(_ context.Context, id string) (models.Message, error) {
	r.calls++
	if r.err != nil {
		return models.Message{}, r.err
	}
	m, ok := r.messages[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m, nil
}

func TestDecodeChange(t *testing.T) {
	stored := models.Message{ID: "m1", RoomID: "room-1", SenderID: "bob", Content: "hi", Status: models.StatusSent}

	tests := []struct {
		name      string
		payload   string
		err       error
		wantOK    bool
		wantOp    models.ChangeOp
		wantRec   bool
		wantLoads int
	}{
		{name: "insert is re-read", payload: `{"op":"insert","room_id":"room-1","id":"m1"}`, wantOK: true, wantOp: models.OpInsert, wantRec: true, wantLoads: 1},
		{name: "update is re-read", payload: `{"op":"update","room_id":"room-1","id":"m1"}`, wantOK: true, wantOp: models.OpUpdate, wantRec: true, wantLoads: 1},
		{name: "delete passes through", payload: `{"op":"delete","room_id":"room-1","id":"m1"}`, wantOK: true, wantOp: models.OpDelete},
		{name: "other room is skipped", payload: `{"op":"insert","room_id":"room-2","id":"m1"}`},
		{name: "row already deleted", payload: `{"op":"update","room_id":"room-1","id":"gone"}`, wantLoads: 1},
		{name: "load failure", payload: `{"op":"insert","room_id":"room-1","id":"m1"}`, err: errors.New("conn reset"), wantLoads: 1},
		{name: "bad payload", payload: `not json`},
		{name: "missing id", payload: `{"op":"delete","room_id":"room-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &recordsStub{messages: map[string]models.Message{"m1": stored}, err: tt.err}

			ev, ok := decodeChange(testContext(t), tt.payload, "room-1", records)

			require.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLoads, records.calls)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantOp, ev.Op)
			assert.Equal(t, "m1", ev.MessageID)
			if tt.wantRec {
				require.NotNil(t, ev.Record)
				assert.Equal(t, stored, *ev.Record)
			} else {
				assert.Nil(t, ev.Record)
			}
		})
	}
}
