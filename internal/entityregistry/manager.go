// Package entityregistry wraps gotd's peers.Manager with a bbolt-backed
// persistent cache. It is the engine's only source of peer access hashes:
// every resolve_peer and list_dialogs call goes through here, and callers
// never talk to gotd/td/telegram/peers directly.
package entityregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatarchiver/internal/gateway"
	"chatarchiver/internal/shared"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	dialogFetchWaitMinMs  = 500
	dialogFetchWaitMaxMs  = 1500
	dialogFetchPageLimit  = 100
	dialogFetchZeroOffset = 0
)

var errDialogsNotModified = errors.New("entityregistry: dialogs not modified")

const (
	peersBucketName                   = "peers"
	dialogsSnapshotBucket             = "dialogs_snapshot"
	dialogsSnapshotKey                = "v1"
	dbOpenTimeout                     = time.Second
	dbFileMode            os.FileMode = 0o600
)

var (
	peersBucketBytes        = []byte(peersBucketName)
	dialogsSnapshotBuckets  = []byte(dialogsSnapshotBucket)
	dialogsSnapshotKeyBytes = []byte(dialogsSnapshotKey)
)

// DialogKind describes the entity shape of a cached dialog.
type DialogKind string

const (
	DialogKindUser       DialogKind = "user"
	DialogKindChat       DialogKind = "chat"
	DialogKindChannel    DialogKind = "channel"
	DialogKindSupergroup DialogKind = "supergroup"
)

// DialogRef is the minimal information kept in the offline dialogs snapshot.
type DialogRef struct {
	Kind  DialogKind `json:"kind"`
	ID    int64      `json:"id"`
	Title string     `json:"title"`
}

// Service owns the peers.Manager and its bbolt-backed persistent storage.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager

	mu      sync.RWMutex
	dialogs []DialogRef
	kindOf  map[int64]DialogKind
}

// New opens the bbolt cache at dbPath and builds a peers.Manager over api.
// It loads any previously saved dialogs snapshot but performs no network
// calls.
func New(api *tg.Client, dbPath string) (*Service, error) {
	if api == nil {
		return nil, errors.New("entityregistry: api client is nil")
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("entityregistry: db path is empty")
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("entityregistry: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("entityregistry: open db: %w", err)
	}

	service := &Service{
		db:      db,
		store:   bboltdb.NewPeerStorage(db, peersBucketBytes),
		Mgr:     (peers.Options{}).Build(api),
		dialogs: make([]DialogRef, 0),
		kindOf:  make(map[int64]DialogKind),
	}

	if loadErr := service.loadDialogsSnapshot(); loadErr != nil {
		_ = db.Close()
		return nil, loadErr
	}

	return service, nil
}

// Close releases the bbolt file handle.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store returns the persistent peer storage that LoadFromStorage replays.
// Nothing in this package writes to it: Mgr is built without it, so peers
// resolved at runtime are kept in memory only and are not added to it.
func (s *Service) Store() contribstorage.PeerStorage {
	return s.store
}

// Dialogs returns a copy of the current offline dialogs snapshot.
func (s *Service) Dialogs() []DialogRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.dialogs) == 0 {
		return nil
	}
	result := make([]DialogRef, len(s.dialogs))
	copy(result, s.dialogs)
	return result
}

// GatewayDialogs converts the offline snapshot into gateway.Dialog values,
// letting list_dialogs callers stay decoupled from peersmgr internals.
func (s *Service) GatewayDialogs() []gateway.Dialog {
	refs := s.Dialogs()
	out := make([]gateway.Dialog, 0, len(refs))
	for _, r := range refs {
		out = append(out, gateway.Dialog{
			ID:    r.ID,
			Title: r.Title,
			Kind:  toGatewayKind(r.Kind),
		})
	}
	return out
}

func toGatewayKind(k DialogKind) gateway.DialogKind {
	switch k {
	case DialogKindUser:
		return gateway.KindUser
	case DialogKindChat:
		return gateway.KindGroup
	case DialogKindSupergroup:
		return gateway.KindSupergroup
	case DialogKindChannel:
		return gateway.KindChannel
	default:
		return gateway.KindGroup
	}
}

// KindOf returns the cached entity kind for a dialog ID, as last seen by
// RefreshDialogs. Needed because gateway.Gateway.ResolvePeer only takes an
// ID: gotd's peers.Manager needs to know whether to resolve it as a user,
// chat, or channel.
func (s *Service) KindOf(id int64) (DialogKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kindOf[id]
	return k, ok
}

// LoadFromStorage replays the persisted peers into the in-memory
// peers.Manager so resolves succeed immediately after a restart.
func (s *Service) LoadFromStorage(ctx context.Context) error {
	iter, exists, err := s.iterateStoredPeers(ctx)
	if err != nil {
		if isJSONUnmarshalError(err) {
			_ = s.resetPeersBucket()
			return nil
		}
		return fmt.Errorf("entityregistry: iterate stored peers: %w", err)
	}
	if !exists {
		return nil
	}
	defer func() {
		_ = iter.Close()
	}()

	users := make([]tg.UserClass, 0)
	chats := make([]tg.ChatClass, 0)

	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			user := value.User
			if user == nil {
				user = &tg.User{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			users = append(users, user)
		case dialogs.Chat:
			chat := value.Chat
			if chat == nil {
				chat = &tg.Chat{ID: value.Key.ID}
			}
			chats = append(chats, chat)
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			chats = append(chats, channel)
		}
	}

	if err = iter.Err(); err != nil {
		return fmt.Errorf("entityregistry: iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, users, chats)
}

// ResolvePeer returns the live peers.Peer for a dialog kind+ID, ok=false if
// the registry has no information for it.
func (s *Service) ResolvePeer(ctx context.Context, kind DialogKind, id int64) (peers.Peer, bool, error) {
	switch kind {
	case DialogKindUser:
		user, err := s.Mgr.ResolveUserID(ctx, id)
		if err != nil {
			var nf *peers.PeerNotFoundError
			if errors.As(err, &nf) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return user, true, nil
	case DialogKindChat:
		chat, err := s.Mgr.ResolveChatID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return chat, true, nil
	case DialogKindChannel, DialogKindSupergroup:
		channel, err := s.Mgr.ResolveChannelID(ctx, id)
		if err != nil {
			var nf *peers.PeerNotFoundError
			if errors.As(err, &nf) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return channel, true, nil
	default:
		return nil, false, fmt.Errorf("entityregistry: unsupported dialog kind %q", kind)
	}
}

// InputPeer resolves a cached dialog ID to a tg.InputPeerClass, looking up
// its kind first. Returns an error if the ID was never seen by
// RefreshDialogs.
func (s *Service) InputPeer(ctx context.Context, id int64) (tg.InputPeerClass, error) {
	kind, ok := s.KindOf(id)
	if !ok {
		return nil, fmt.Errorf("entityregistry: unknown dialog %d, call RefreshDialogs first", id)
	}
	peer, found, err := s.ResolvePeer(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("entityregistry: dialog %d not resolvable", id)
	}
	return peer.InputPeer(), nil
}

// RefreshDialogs re-fetches the full dialog list via MessagesGetDialogs,
// feeds discovered entities into peers.Manager, and rewrites the persisted
// snapshot and kind index.
func (s *Service) RefreshDialogs(ctx context.Context, api *tg.Client) error {
	client := s.selectAPI(api)
	if client == nil {
		return errors.New("entityregistry: telegram client is nil")
	}

	result, err := fetchDialogs(ctx, client)
	if err != nil {
		return fmt.Errorf("entityregistry: fetch dialogs: %w", err)
	}

	if err = s.Mgr.Apply(ctx, result.Users, result.Chats); err != nil {
		return fmt.Errorf("entityregistry: apply entities: %w", err)
	}
	if err = s.saveDialogsSnapshot(result.Dialogs, result.Chats, result.Users); err != nil {
		return fmt.Errorf("entityregistry: persist dialogs snapshot: %w", err)
	}
	return nil
}

func (s *Service) selectAPI(explicit *tg.Client) *tg.Client {
	if explicit != nil {
		return explicit
	}
	if s.Mgr != nil {
		return s.Mgr.API()
	}
	return nil
}

func (s *Service) iterateStoredPeers(ctx context.Context) (contribstorage.PeerIterator, bool, error) {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return nil, false, err
	}
	return iter, true, nil
}

func isJSONUnmarshalError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	return strings.Contains(err.Error(), "json:")
}

func (s *Service) resetPeersBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucketBytes); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucketBytes)
		return err
	})
}

func (s *Service) loadDialogsSnapshot() error {
	var data []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(dialogsSnapshotBuckets)
		if bucket == nil {
			return nil
		}
		value := bucket.Get(dialogsSnapshotKeyBytes)
		if len(value) == 0 {
			return nil
		}
		data = append(data, value...)
		return nil
	}); err != nil {
		return fmt.Errorf("entityregistry: load snapshot: %w", err)
	}

	if len(data) == 0 {
		s.setDialogs(nil)
		return nil
	}

	var refs []DialogRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("entityregistry: decode snapshot: %w", err)
	}
	s.setDialogs(refs)
	return nil
}

func (s *Service) saveDialogsSnapshot(source []tg.DialogClass, chats []tg.ChatClass, users []tg.UserClass) error {
	titles := make(map[int64]string, len(chats)+len(users))
	megagroups := make(map[int64]bool, len(chats))
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			titles[v.ID] = v.Title
		case *tg.Channel:
			titles[v.ID] = v.Title
			megagroups[v.ID] = v.Megagroup
		}
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			titles[user.ID] = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
	}

	refs := make([]DialogRef, 0, len(source))
	kindOf := make(map[int64]DialogKind, len(source))
	for _, dialog := range source {
		switch dlg := dialog.(type) {
		case *tg.Dialog:
			switch peer := dlg.Peer.(type) {
			case *tg.PeerUser:
				refs = append(refs, DialogRef{Kind: DialogKindUser, ID: peer.UserID, Title: titles[peer.UserID]})
				kindOf[peer.UserID] = DialogKindUser
			case *tg.PeerChat:
				refs = append(refs, DialogRef{Kind: DialogKindChat, ID: peer.ChatID, Title: titles[peer.ChatID]})
				kindOf[peer.ChatID] = DialogKindChat
			case *tg.PeerChannel:
				kind := DialogKindChannel
				if megagroups[peer.ChannelID] {
					kind = DialogKindSupergroup
				}
				refs = append(refs, DialogRef{Kind: kind, ID: peer.ChannelID, Title: titles[peer.ChannelID]})
				kindOf[peer.ChannelID] = kind
			}
			// *tg.DialogFolder (a folder/label grouping, not a conversation)
			// is intentionally skipped: list_dialogs only surfaces actual
			// peers, and gateway.DialogKind has no folder variant for it.
		}
	}

	payload, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("entityregistry: marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, bucketErr := tx.CreateBucketIfNotExists(dialogsSnapshotBuckets)
		if bucketErr != nil {
			return bucketErr
		}
		return bucket.Put(dialogsSnapshotKeyBytes, payload)
	})
	if err != nil {
		return fmt.Errorf("entityregistry: save snapshot: %w", err)
	}
	s.setDialogs(refs)
	s.setKindIndex(kindOf)
	return nil
}

func (s *Service) setDialogs(refs []DialogRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(refs) == 0 {
		s.dialogs = nil
		return
	}
	s.dialogs = make([]DialogRef, len(refs))
	copy(s.dialogs, refs)
}

func (s *Service) setKindIndex(kindOf map[int64]DialogKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(kindOf) == 0 {
		return
	}
	if s.kindOf == nil {
		s.kindOf = make(map[int64]DialogKind, len(kindOf))
	}
	for id, k := range kindOf {
		s.kindOf[id] = k
	}
}

// fetchDialogs walks the account's entire dialog list via repeated
// MessagesGetDialogs calls, paginating by (offset_date, offset_id,
// offset_peer) the way Telegram's own clients do it — access hashes seen
// in one page feed the InputPeer built for the next page's offset_peer.
func fetchDialogs(ctx context.Context, api *tg.Client) (*tg.MessagesDialogs, error) {
	result := &tg.MessagesDialogs{}

	offsetDate := dialogFetchZeroOffset
	offsetID := dialogFetchZeroOffset
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	shared.WaitRandomMs(ctx, dialogFetchWaitMinMs, dialogFetchWaitMaxMs)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogFetchPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("MessagesGetDialogs: %w", err)
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return result, nil
			}
			return nil, err
		}

		if len(batch.Dialogs) == 0 {
			break
		}

		result.Dialogs = append(result.Dialogs, batch.Dialogs...)
		result.Messages = append(result.Messages, batch.Messages...)
		result.Chats = append(result.Chats, batch.Chats...)
		result.Users = append(result.Users, batch.Users...)

		updateHashesFromBatch(batch, userHashes, channelHashes)

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if offsetDate == dialogFetchZeroOffset {
			offsetDate = prevOffsetDate
		}
		if offsetID == dialogFetchZeroOffset {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogFetchPageLimit {
			break
		}

		shared.WaitRandomMs(ctx, dialogFetchWaitMinMs, dialogFetchWaitMaxMs)
	}

	return result, nil
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("unexpected dialogs response: %T", resp)
	}
}

func updateHashesFromBatch(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		switch item := entity.(type) {
		case *tg.Channel:
			channelHashes[item.ID] = item.AccessHash
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return dialogFetchZeroOffset
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{
			UserID:     entity.UserID,
			AccessHash: userHashes[entity.UserID],
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{
			ChannelID:  entity.ChannelID,
			AccessHash: channelHashes[entity.ChannelID],
		}
	default:
		return &tg.InputPeerEmpty{}
	}
}
