package gotdgw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotd/td/tg"
)

func TestLargestPhotoSize_PicksBiggestArea(t *testing.T) {
	photo := &tg.Photo{
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "s", W: 100, H: 100},
			&tg.PhotoSize{Type: "m", W: 320, H: 320},
			&tg.PhotoSizeProgressive{Type: "x", W: 800, H: 800},
			&tg.PhotoSize{Type: "y", W: 500, H: 500},
		},
	}
	require.Equal(t, "x", largestPhotoSize(photo))
}

func TestLargestPhotoSize_EmptySizes(t *testing.T) {
	require.Equal(t, "", largestPhotoSize(&tg.Photo{}))
}
