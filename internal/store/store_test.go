package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatarchiver/internal/gateway"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveMessageBatch_InsertThenEdit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveMessageBatch(ctx, 1, []gateway.RawMessage{
		{ID: 10, Timestamp: 100, SenderID: 5, Text: "hello"},
	}))

	msgs, err := s.ReadMessages(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Empty(t, msgs[0].EditHistory)

	require.NoError(t, s.SaveMessageBatch(ctx, 1, []gateway.RawMessage{
		{ID: 10, Timestamp: 100, SenderID: 5, Text: "hello (edited)"},
	}))

	msgs, err = s.ReadMessages(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello (edited)", msgs[0].Text)
	require.Len(t, msgs[0].EditHistory, 1)
	assert.Equal(t, "hello", msgs[0].EditHistory[0].PriorText)
}

func TestSaveMessageBatch_UnchangedTextIsNoEdit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	msg := gateway.RawMessage{ID: 1, Timestamp: 1, Text: "same"}
	require.NoError(t, s.SaveMessageBatch(ctx, 1, []gateway.RawMessage{msg}))
	require.NoError(t, s.SaveMessageBatch(ctx, 1, []gateway.RawMessage{msg}))

	msgs, err := s.ReadMessages(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].EditHistory)
}

func TestReadMessages_FiltersBySinceID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveMessageBatch(ctx, 1, []gateway.RawMessage{
		{ID: 1, Timestamp: 1, Text: "a"},
		{ID: 2, Timestamp: 2, Text: "b"},
		{ID: 3, Timestamp: 3, Text: "c"},
	}))

	msgs, err := s.ReadMessages(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(3), msgs[1].ID)
}

func TestBlacklist_SetListRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertDialog(ctx, gateway.Dialog{ID: 42, Title: "Friends", Kind: gateway.KindGroup}))

	list, err := s.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.SetBlacklist(ctx, 42, true))
	list, err = s.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, list)

	require.NoError(t, s.SetBlacklist(ctx, 42, false))
	list, err = s.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetBlacklist_UnknownDialogErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.SetBlacklist(context.Background(), 999, true)
	assert.Error(t, err)
}

func TestAnalysisLog_RecordAndCheck(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ok, err := s.IsAnalyzed(ctx, 1, "2026-W30")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordAnalysis(ctx, 1, "2026-W30", 123))

	ok, err = s.IsAnalyzed(ctx, 1, "2026-W30")
	require.NoError(t, err)
	assert.True(t, ok)
}
