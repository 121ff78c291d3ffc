package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	id1, err := pub.Publish(ctx, "progress", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	pub.FailNext(errors.New("boom"))
	_, err = pub.Publish(ctx, "progress", "dropped")
	require.Error(t, err)

	id2, err := pub.Publish(ctx, "run", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "progress", msgs[0].Kind)
	require.Equal(t, "run", msgs[1].Kind)

	msgs[0].Kind = "modified"
	require.Equal(t, "progress", pub.Messages()[0].Kind)

	require.NoError(t, pub.Close())
	_, err = pub.Publish(ctx, "progress", "late")
	require.Error(t, err)
}
