// History fetching: ListDialogs and GetHistory, both thin translations from
// gotd/td's wire types into the gateway's RawMessage/Dialog value types.
// Pagination for GetHistory follows the same offset-walk shape as
// entityregistry's MessagesGetDialogs pagination, generalized to
// MessagesGetHistory.
package gotdgw

import (
	"context"
	"encoding/json"
	"fmt"

	"chatarchiver/internal/entityregistry"
	"chatarchiver/internal/errs"
	"chatarchiver/internal/gateway"
	"chatarchiver/internal/shared"
	"chatarchiver/internal/tgutil"

	"github.com/gotd/td/tg"
)

const (
	historyFetchWaitMinMs = 300
	historyFetchWaitMaxMs = 900
	historyPageLimit      = 100
)

// Adapter binds a gotdgw.Client to the entity registry that resolves
// dialog IDs to access hashes, completing the Gateway implementation.
type Adapter struct {
	client *Client
	reg    *entityregistry.Service
}

var _ gateway.Gateway = (*Adapter)(nil)

// NewAdapter wires a running Client and its entity registry into a Gateway.
func NewAdapter(client *Client, reg *entityregistry.Service) *Adapter {
	return &Adapter{client: client, reg: reg}
}

// ListDialogs refreshes the registry's dialog snapshot and returns it in
// gateway form.
func (a *Adapter) ListDialogs(ctx context.Context) ([]gateway.Dialog, error) {
	a.client.tracker.WaitOnline(ctx)
	if err := a.reg.RefreshDialogs(ctx, a.client.api); err != nil {
		return nil, a.client.translateErr(err)
	}
	return a.reg.GatewayDialogs(), nil
}

// ResolvePeer forces the registry to know about dialogID, populating the
// persistent peer cache as a side effect.
func (a *Adapter) ResolvePeer(ctx context.Context, peerID int64) error {
	a.client.tracker.WaitOnline(ctx)
	if _, err := a.reg.InputPeer(ctx, peerID); err != nil {
		if kind, ok := a.reg.KindOf(peerID); ok {
			if _, found, resolveErr := a.reg.ResolvePeer(ctx, kind, peerID); resolveErr == nil && found {
				return nil
			}
		}
		return fmt.Errorf("%w: %v", errs.ErrGatewayNotFound, err)
	}
	return nil
}

// GetHistory returns up to limit messages with id > minID, oldest-unfetched
// page first, so repeated calls with an advancing minID walk the dialog's
// entire history forward instead of only ever reaching the newest page.
// It anchors on minID with a negative add_offset, Telegram's documented
// trick for paging towards newer messages instead of the default
// newest-to-oldest walk (see https://core.telegram.org/api/offsets):
// offset_id=minID, add_offset=-page, limit=page returns exactly the page
// messages immediately above minID. Callers MUST still re-filter by minID
// themselves: a non-compliant gateway's final page can dip below it.
func (a *Adapter) GetHistory(ctx context.Context, dialogID, minID int64, limit int) ([]gateway.RawMessage, error) {
	a.client.tracker.WaitOnline(ctx)

	peer, err := a.reg.InputPeer(ctx, dialogID)
	if err != nil {
		return nil, fmt.Errorf("gotdgw: resolve dialog %d: %w", dialogID, err)
	}

	out := make([]gateway.RawMessage, 0, limit)
	anchor := int(minID)

	for len(out) < limit {
		remaining := limit - len(out)
		page := remaining
		if page > historyPageLimit {
			page = historyPageLimit
		}

		resp, err := a.client.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer,
			OffsetID:  anchor,
			AddOffset: -page,
			Limit:     page,
			MinID:     int(minID),
		})
		if err != nil {
			return out, a.client.translateErr(err)
		}

		messages, ok := extractMessages(resp)
		if !ok || len(messages) == 0 {
			break
		}

		// MessagesGetHistory always returns newest-first within the
		// windowed slice; walk it back to front to append in ascending
		// order and find the new anchor (the highest id seen).
		newAnchor := anchor
		for i := len(messages) - 1; i >= 0; i-- {
			if id := messages[i].GetID(); id > newAnchor {
				newAnchor = id
			}
			msg, ok := messages[i].(*tg.Message)
			if !ok || int64(msg.ID) <= minID {
				continue
			}
			out = append(out, toRawMessage(dialogID, msg))
		}

		if len(messages) < page || newAnchor == anchor {
			break
		}
		anchor = newAnchor

		shared.WaitRandomMs(ctx, historyFetchWaitMinMs, historyFetchWaitMaxMs)
	}

	return out, nil
}

func extractMessages(resp tg.MessagesMessagesClass) ([]tg.MessageClass, bool) {
	switch v := resp.(type) {
	case *tg.MessagesMessages:
		return v.Messages, true
	case *tg.MessagesMessagesSlice:
		return v.Messages, true
	case *tg.MessagesChannelMessages:
		return v.Messages, true
	default:
		return nil, false
	}
}

func toRawMessage(dialogID int64, msg *tg.Message) gateway.RawMessage {
	raw := gateway.RawMessage{
		ID:        int64(msg.ID),
		Timestamp: int64(msg.Date),
		Text:      msg.Message,
	}

	if msg.FromID != nil {
		raw.SenderID = tgutil.GetPeerID(msg.FromID)
	}

	if media, ok := msg.GetMedia(); ok {
		if descriptor, ext, ok := encodeMediaDescriptor(dialogID, msg.ID, media); ok {
			raw.MediaDescriptor = descriptor
			raw.ExpectedExtension = ext
		}
	}

	return raw
}

// mediaRef is the opaque payload behind gateway.RawMessage.MediaDescriptor:
// just enough to re-fetch the owning message and extract its media again at
// download time, since MTProto media locations are tied to a specific
// message/access-hash pair rather than a stable URL.
type mediaRef struct {
	DialogID  int64  `json:"dialog_id"`
	MessageID int    `json:"message_id"`
	Kind      string `json:"kind"`
}

func encodeMediaDescriptor(dialogID int64, messageID int, media tg.MessageMediaClass) ([]byte, string, bool) {
	var kind, ext string
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		kind, ext = "photo", "jpg"
	case *tg.MessageMediaDocument:
		kind, ext = "document", documentExtension(m)
	default:
		return nil, "", false
	}

	data, err := json.Marshal(mediaRef{DialogID: dialogID, MessageID: messageID, Kind: kind})
	if err != nil {
		return nil, "", false
	}
	return data, ext, true
}

func documentExtension(m *tg.MessageMediaDocument) string {
	doc, ok := m.Document.(*tg.Document)
	if !ok {
		return "bin"
	}
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			for i := len(fn.FileName) - 1; i >= 0; i-- {
				if fn.FileName[i] == '.' {
					return fn.FileName[i+1:]
				}
			}
		}
	}
	return "bin"
}

