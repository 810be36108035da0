package tgutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gotd/td/tg"
)

func TestGetPeerID(t *testing.T) {
	assert.Equal(t, int64(42), GetPeerID(&tg.PeerUser{UserID: 42}))
	assert.Equal(t, int64(7), GetPeerID(&tg.PeerChat{ChatID: 7}))
	assert.Equal(t, int64(99), GetPeerID(&tg.PeerChannel{ChannelID: 99}))
	assert.Equal(t, int64(0), GetPeerID(nil))
}
