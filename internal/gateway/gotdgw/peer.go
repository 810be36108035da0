// SendSelfMessage posts alert text to the account's own saved-messages
// dialog, used by the Watcher. random_id is derived deterministically from
// the account's own ID and the text, so a retried send of the same alert
// doesn't produce a duplicate: Telegram dedupes by random_id within a peer.
package gotdgw

import (
	"context"
	"encoding/binary"
	"hash/fnv"

	"github.com/gotd/td/tg"
)

const randomIDMask = (1 << 63) - 1

// SendSelfMessage implements gateway.Gateway.
func (a *Adapter) SendSelfMessage(ctx context.Context, text string) error {
	a.client.tracker.WaitOnline(ctx)

	self, err := a.client.tg.Self(ctx)
	if err != nil {
		return a.client.translateErr(err)
	}

	_, err = a.client.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     &tg.InputPeerSelf{},
		Message:  text,
		RandomID: randomIDFromText(self.ID, text),
	})
	if err != nil {
		return a.client.translateErr(err)
	}
	return nil
}

func randomIDFromText(selfID int64, text string) int64 {
	hasher := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(selfID)) // #nosec G115
	_, _ = hasher.Write(buf[:])
	_, _ = hasher.Write([]byte(text))

	value := hasher.Sum64() & randomIDMask
	if value == 0 {
		value = 1
	}
	return int64(value) // #nosec G115
}
