package gotdgw

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	chaterrs "chatarchiver/internal/errs"
)

func TestTranslateErr_NilIsNil(t *testing.T) {
	c := &Client{tracker: NewConnTracker(context.Background(), nil)}
	require.NoError(t, c.translateErr(nil))
}

func TestTranslateErr_WrapsGenericErrorAsGatewayTransport(t *testing.T) {
	c := &Client{tracker: NewConnTracker(context.Background(), nil)}
	err := c.translateErr(errors.New("boom"))
	require.ErrorIs(t, err, chaterrs.ErrGatewayTransport)
}

func TestClient_APIAndSelfIDAccessors(t *testing.T) {
	c := &Client{selfID: 99}
	require.Nil(t, c.API())
	require.Equal(t, int64(99), c.SelfID())
}
