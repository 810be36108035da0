package entityregistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotd/td/tg"
)

func TestNormalizeDialogsResponse(t *testing.T) {
	slice := &tg.MessagesDialogsSlice{
		Dialogs: []tg.DialogClass{&tg.Dialog{Peer: &tg.PeerUser{UserID: 1}}},
		Users:   []tg.UserClass{&tg.User{ID: 1}},
	}
	out, err := normalizeDialogsResponse(slice)
	require.NoError(t, err)
	require.Len(t, out.Dialogs, 1)
	require.Len(t, out.Users, 1)

	full := &tg.MessagesDialogs{Dialogs: []tg.DialogClass{&tg.Dialog{}}}
	out, err = normalizeDialogsResponse(full)
	require.NoError(t, err)
	require.Same(t, full, out)

	_, err = normalizeDialogsResponse(&tg.MessagesDialogsNotModified{})
	require.ErrorIs(t, err, errDialogsNotModified)

	_, err = normalizeDialogsResponse(nil)
	require.Error(t, err)
}

func TestUpdateHashesFromBatch(t *testing.T) {
	batch := &tg.MessagesDialogs{
		Users: []tg.UserClass{&tg.User{ID: 5, AccessHash: 555}},
		Chats: []tg.ChatClass{&tg.Channel{ID: 9, AccessHash: 999}, &tg.Chat{ID: 3}},
	}
	userHashes := map[int64]int64{}
	channelHashes := map[int64]int64{}
	updateHashesFromBatch(batch, userHashes, channelHashes)

	require.Equal(t, int64(555), userHashes[5])
	require.Equal(t, int64(999), channelHashes[9])
	require.NotContains(t, channelHashes, int64(3))
}

func TestMessageDate(t *testing.T) {
	messages := []tg.MessageClass{
		&tg.Message{ID: 10, Date: 1000},
		&tg.MessageService{ID: 11, Date: 2000},
	}
	require.Equal(t, 1000, messageDate(messages, 10))
	require.Equal(t, 2000, messageDate(messages, 11))
	require.Equal(t, dialogFetchZeroOffset, messageDate(messages, 999))
}

func TestDialogPeerToInput(t *testing.T) {
	userHashes := map[int64]int64{1: 11}
	channelHashes := map[int64]int64{2: 22}

	in := dialogPeerToInput(&tg.PeerUser{UserID: 1}, userHashes, channelHashes)
	require.Equal(t, &tg.InputPeerUser{UserID: 1, AccessHash: 11}, in)

	in = dialogPeerToInput(&tg.PeerChat{ChatID: 7}, userHashes, channelHashes)
	require.Equal(t, &tg.InputPeerChat{ChatID: 7}, in)

	in = dialogPeerToInput(&tg.PeerChannel{ChannelID: 2}, userHashes, channelHashes)
	require.Equal(t, &tg.InputPeerChannel{ChannelID: 2, AccessHash: 22}, in)

	in = dialogPeerToInput(nil, userHashes, channelHashes)
	require.Equal(t, &tg.InputPeerEmpty{}, in)
}
