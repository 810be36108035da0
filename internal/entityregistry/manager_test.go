package entityregistry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"chatarchiver/internal/gateway"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "entities.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Service{
		db:      db,
		dialogs: make([]DialogRef, 0),
		kindOf:  make(map[int64]DialogKind),
	}
}

func TestToGatewayKind(t *testing.T) {
	cases := map[DialogKind]gateway.DialogKind{
		DialogKindUser:       gateway.KindUser,
		DialogKindChat:       gateway.KindGroup,
		DialogKindSupergroup: gateway.KindSupergroup,
		DialogKindChannel:    gateway.KindChannel,
	}
	for in, want := range cases {
		require.Equal(t, want, toGatewayKind(in))
	}
}

func TestDialogsSnapshot_SaveAndReload(t *testing.T) {
	svc := newTestService(t)

	dialogs := []tg.DialogClass{
		&tg.Dialog{Peer: &tg.PeerUser{UserID: 10}},
		&tg.Dialog{Peer: &tg.PeerChat{ChatID: 20}},
		&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 30}},
	}
	chats := []tg.ChatClass{
		&tg.Channel{ID: 30, Title: "Announcements", Megagroup: false},
	}
	users := []tg.UserClass{
		&tg.User{ID: 10, FirstName: "Ada", LastName: "Lovelace"},
	}

	require.NoError(t, svc.saveDialogsSnapshot(dialogs, chats, users))

	got := svc.Dialogs()
	require.Len(t, got, 3)

	kind, ok := svc.KindOf(10)
	require.True(t, ok)
	require.Equal(t, DialogKindUser, kind)

	kind, ok = svc.KindOf(30)
	require.True(t, ok)
	require.Equal(t, DialogKindChannel, kind)

	gwDialogs := svc.GatewayDialogs()
	require.Len(t, gwDialogs, 3)

	// A second Service instance opening the same db file must recover the
	// persisted snapshot without any network call.
	reopened := &Service{db: svc.db}
	require.NoError(t, reopened.loadDialogsSnapshot())
	require.Len(t, reopened.Dialogs(), 3)
}

func TestInputPeer_UnknownDialogErrors(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.InputPeer(context.Background(), 999)
	require.Error(t, err)
}

func TestIsJSONUnmarshalError(t *testing.T) {
	err := json.Unmarshal([]byte("not-json"), &struct{}{})
	require.Error(t, err)
	require.True(t, isJSONUnmarshalError(err))
	require.False(t, isJSONUnmarshalError(errors.New("boring io error")))
}
