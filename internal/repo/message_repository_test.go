package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

func newBareMessageRepo() *messageRepository {
	// mongoRepo stays nil: these tests cover the validation and filter
	// logic that runs before any collection call
	return &messageRepository{logger: zap.NewNop()}
}

func TestInsertMessageValidation(t *testing.T) {
	m := newBareMessageRepo()

	_, err := m.InsertMessage(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = m.InsertMessage(context.Background(), &model.Message{SenderID: "alice"})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestMarkReadRequiresMessageIDs(t *testing.T) {
	m := newBareMessageRepo()

	err := m.MarkRead(context.Background(), nil, "alice")
	assert.ErrorIs(t, err, ErrNoMessageIDs)
}

func TestHistoryFilterDirectCoversBothDirections(t *testing.T) {
	m := newBareMessageRepo()

	filter, err := m.historyFilter(event.Direct("bob"), "alice")
	require.NoError(t, err)

	assert.Equal(t, event.ChatTypeDirect, filter["chat_type"])
	assert.Equal(t, false, filter["deleted"])

	or, ok := filter["$or"].([]bson.M)
	require.True(t, ok)
	require.Len(t, or, 2)
	assert.Contains(t, or, bson.M{"sender_id": "alice", "recipient": "bob"})
	assert.Contains(t, or, bson.M{"sender_id": "bob", "recipient": "alice"})
}

func TestHistoryFilterGroup(t *testing.T) {
	m := newBareMessageRepo()

	filter, err := m.historyFilter(event.Group("g1"), "alice")
	require.NoError(t, err)

	assert.Equal(t, bson.M{
		"chat_type": event.ChatTypeGroup,
		"group":     "g1",
		"deleted":   false,
	}, filter)
}

func TestHistoryFilterRejectsBroadcastRoom(t *testing.T) {
	m := newBareMessageRepo()

	_, err := m.historyFilter(event.Broadcast(), "alice")
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	m := newBareMessageRepo()

	assert.False(t, m.isRetryableError(nil))
	assert.False(t, m.isRetryableError(context.Canceled))
	assert.False(t, m.isRetryableError(context.DeadlineExceeded))
	assert.False(t, m.isRetryableError(ErrEmptyContent))
}

func TestEnsureTimeoutKeepsCallerDeadline(t *testing.T) {
	m := newBareMessageRepo()

	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	parentDeadline, _ := parent.Deadline()

	ctx, cancel2 := m.ensureTimeout(parent, time.Second)
	defer cancel2()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.Equal(t, parentDeadline, deadline, "an existing deadline must not be tightened")
}

func TestEnsureTimeoutAddsDefaultDeadline(t *testing.T) {
	m := newBareMessageRepo()

	ctx, cancel := m.ensureTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok := ctx.Deadline()
	assert.True(t, ok)
}
