// Package gateway defines the Chat Gateway port: the abstract remote chat
// service the rest of the engine is built against. The only adapter is
// internal/gateway/gotdgw, constructed by the outer wiring step — the
// core never names gotd or MTProto directly.
package gateway

import "context"

// DialogKind tags the conversation shape of a Dialog.
type DialogKind string

const (
	KindUser       DialogKind = "user"
	KindGroup      DialogKind = "group"
	KindSupergroup DialogKind = "supergroup"
	KindChannel    DialogKind = "channel"
)

// Dialog is a conversation as discovered by ListDialogs.
type Dialog struct {
	ID    int64
	Title string
	Kind  DialogKind
}

// RawMessage is a single history record exactly as the gateway returns it,
// before the sync service persists it through internal/store.
type RawMessage struct {
	ID               int64
	Timestamp        int64 // unix seconds
	SenderID         int64 // 0 if absent
	Text             string
	MediaDescriptor  []byte // opaque JSON, nil if the message carries no media
	ExpectedExtension string
}

// Gateway is the abstract remote chat service. All operations fail with a
// tagged error kind from internal/errs; the only kind with attached data
// is *errs.FloodWaitError.
type Gateway interface {
	// ListDialogs enumerates accessible peers. Expensive and rate-limited;
	// callers should rely on the Entity Registry rather than re-listing.
	ListDialogs(ctx context.Context) ([]Dialog, error)

	// GetHistory returns up to limit messages with id > minID: the
	// oldest-unfetched page, not merely the newest limit messages in the
	// dialog, so repeated calls with an advancing minID walk the full
	// history forward. The gateway MAY ignore minID; callers MUST re-filter.
	GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]RawMessage, error)

	// DownloadMedia streams media bytes described by mediaDescriptor to
	// destPath.
	DownloadMedia(ctx context.Context, mediaDescriptor []byte, destPath string) error

	// ResolvePeer resolves peerID to an access handle, populating the
	// Entity Registry as a side effect of the concrete adapter.
	ResolvePeer(ctx context.Context, peerID int64) error

	// SendSelfMessage posts text to the account's own saved-messages
	// dialog, used by the Watcher for alerting.
	SendSelfMessage(ctx context.Context, text string) error
}
