package pchan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FamilySearch/pewpew/internal/value"
)

func TestTrySendRespectsFixedLimit(t *testing.T) {
	c := New(Fixed, 2)
	require.True(t, c.TrySend(value.NewInt(1)))
	require.True(t, c.TrySend(value.NewInt(2)))
	require.False(t, c.TrySend(value.NewInt(3)))
	require.Equal(t, 2, c.Len())
}

func TestForceSendBypassesLimit(t *testing.T) {
	c := New(Fixed, 1)
	require.True(t, c.TrySend(value.NewInt(1)))
	c.ForceSend(value.NewInt(2))
	require.Equal(t, 2, c.Len())
}

func TestAutoGrowOnDrainToEmpty(t *testing.T) {
	c := New(Auto, 5)
	for i := 0; i < 5; i++ {
		require.True(t, c.TrySend(value.NewInt(int64(i))))
	}
	require.False(t, c.TrySend(value.NewInt(99)))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, ok, err := c.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, int64(6), c.Limit())
	require.True(t, c.TrySend(value.NewInt(100)))
}

func TestRecvEndOfStreamWhenSendersGone(t *testing.T) {
	c := New(Fixed, 1)
	c.DropSender()
	v, ok, err := c.Recv(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, value.Null, v.Kind())
}

func TestRecvOrdersFIFO(t *testing.T) {
	c := New(Fixed, 4)
	c.TrySend(value.NewInt(1))
	c.TrySend(value.NewInt(2))
	v1, _, _ := c.Recv(context.Background())
	v2, _, _ := c.Recv(context.Background())
	require.Equal(t, int64(1), v1.Int())
	require.Equal(t, int64(2), v2.Int())
}

func TestSendBlockCancelledByContext(t *testing.T) {
	c := New(Fixed, 1)
	c.TrySend(value.NewInt(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SendBlock(ctx, value.NewInt(2))
	require.Error(t, err)
}
