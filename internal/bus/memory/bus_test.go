package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewSignalBus()
	ch, err := bus.Subscribe(ctx, "ch:test")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "ch:test", []byte("hello")))
	assert.Equal(t, []byte("hello"), <-ch)
}

func TestSignalBus_StreamReadAfterID(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}

	// "0" is not a real entry ID, so the read starts at the beginning.
	all, err := bus.StreamRead(ctx, "s", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []byte("a"), all[0].Payload)

	rest, err := bus.StreamRead(ctx, "s", all[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, []byte("b"), rest[0].Payload)

	limited, err := bus.StreamRead(ctx, "s", "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
