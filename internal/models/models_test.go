package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAdvance(t *testing.T) {
	tests := []struct {
		from, next, want Status
	}{
		{StatusSent, StatusDelivered, StatusDelivered},
		{StatusDelivered, StatusSent, StatusDelivered},
		{StatusRead, StatusDelivered, StatusRead},
		{StatusSent, Status("bogus"), StatusSent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.Advance(tt.next), "%s -> %s", tt.from, tt.next)
	}
	assert.True(t, StatusDelivered.Unread())
	assert.False(t, StatusRead.Unread())
}

func TestReactionsToggle(t *testing.T) {
	var r Reactions

	r = r.Toggle("👍", "bob")
	r = r.Toggle("👍", "alice")
	assert.Equal(t, Reactions{"👍": {"alice", "bob"}}, r)

	assert.Equal(t, r, r.Add("👍", "bob"))

	r = r.Toggle("👍", "alice").Toggle("👍", "bob")
	assert.Nil(t, r)
}

func TestReactionsCopyOnWrite(t *testing.T) {
	orig := Reactions{"🔥": {"carol"}}
	_ = orig.Add("🔥", "alice")
	_ = orig.Remove("🔥", "carol")

	assert.Equal(t, Reactions{"🔥": {"carol"}}, orig)
}

func TestReactionsScanNormalizes(t *testing.T) {
	var r Reactions
	require.NoError(t, r.Scan([]byte(`{"👍":["bob","alice","bob"],"😢":[]}`)))
	assert.Equal(t, Reactions{"👍": {"alice", "bob"}}, r)

	require.NoError(t, r.Scan(nil))
	assert.Nil(t, r)
	assert.Error(t, r.Scan(42))
}

func TestMessageBeforeTieBreaksOnID(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a := Message{ID: "a", CreatedAt: at}
	b := Message{ID: "b", CreatedAt: at}
	c := Message{ID: "0", CreatedAt: at.Add(time.Second)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestPairKeyIsUnordered(t *testing.T) {
	assert.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "Photo", Message{Kind: KindImage, Content: "s3://x"}.Preview())
	assert.Equal(t, "hi", Message{Kind: KindText, Content: "hi"}.Preview())
}
