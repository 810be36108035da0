// DownloadMedia resolves a mediaRef (see history.go) back to its owning
// message and streams the media to destPath via gotd/td's downloader.
package gotdgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// DownloadMedia implements gateway.Gateway.
func (a *Adapter) DownloadMedia(ctx context.Context, mediaDescriptor []byte, destPath string) error {
	a.client.tracker.WaitOnline(ctx)

	var ref mediaRef
	if err := json.Unmarshal(mediaDescriptor, &ref); err != nil {
		return fmt.Errorf("gotdgw: decode media descriptor: %w", err)
	}

	peer, err := a.reg.InputPeer(ctx, ref.DialogID)
	if err != nil {
		return fmt.Errorf("gotdgw: resolve dialog %d: %w", ref.DialogID, err)
	}

	loc, err := a.locationForMessage(ctx, peer, ref)
	if err != nil {
		return a.client.translateErr(err)
	}

	_, err = downloader.NewDownloader().Download(a.client.api, loc).ToPath(ctx, destPath)
	if err != nil {
		return a.client.translateErr(err)
	}
	return nil
}

func (a *Adapter) locationForMessage(ctx context.Context, peer tg.InputPeerClass, ref mediaRef) (tg.InputFileLocationClass, error) {
	resp, err := a.client.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     peer,
		OffsetID: ref.MessageID + 1,
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("gotdgw: refetch message %d: %w", ref.MessageID, err)
	}

	messages, ok := extractMessages(resp)
	if !ok || len(messages) == 0 {
		return nil, fmt.Errorf("gotdgw: message %d not found in dialog %d", ref.MessageID, ref.DialogID)
	}

	msg, ok := messages[0].(*tg.Message)
	if !ok || msg.ID != ref.MessageID {
		return nil, fmt.Errorf("gotdgw: message %d not found in dialog %d", ref.MessageID, ref.DialogID)
	}

	media, ok := msg.GetMedia()
	if !ok {
		return nil, fmt.Errorf("gotdgw: message %d carries no media", ref.MessageID)
	}

	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("gotdgw: photo %d missing", ref.MessageID)
		}
		size := largestPhotoSize(photo)
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     size,
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("gotdgw: document %d missing", ref.MessageID)
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil
	default:
		return nil, fmt.Errorf("gotdgw: unsupported media kind %T", media)
	}
}

func largestPhotoSize(photo *tg.Photo) string {
	best := ""
	bestArea := 0
	for _, s := range photo.Sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if area := sz.W * sz.H; area > bestArea {
				bestArea, best = area, sz.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := sz.W * sz.H; area > bestArea {
				bestArea, best = area, sz.Type
			}
		}
	}
	return best
}
