package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/internal/pipeline"
)

func product(signature string) pipeline.ProductRecord {
	return pipeline.ProductRecord{
		Title:            "Recorded Product",
		Images:           []pipeline.ProductImage{{URL: "https://cdn.example.com/p.jpg", Alt: "p"}},
		SourceURL:        "https://supplier.example.com/p",
		PayloadSignature: signature,
	}
}

func TestPublisherRecordsCalls(t *testing.T) {
	t.Parallel()

	pub := New("memory")
	require.Equal(t, "memory", pub.StoreID())

	result, err := pub.Publish(context.Background(), product("sig-1"), "sig-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "memory-1", result.ExternalID)

	result, err = pub.Publish(context.Background(), product("sig-2"), "sig-2")
	require.NoError(t, err)
	require.Equal(t, "memory-2", result.ExternalID)

	calls := pub.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "sig-1", calls[0].IdempotencyKey)
	require.Equal(t, "sig-2", calls[1].IdempotencyKey)
}

func TestPublisherScriptedOutcomes(t *testing.T) {
	t.Parallel()

	pub := New("memory")
	pub.Result = &pipeline.PublishResult{Success: false, StatusCode: 422, Message: "rejected"}

	result, err := pub.Publish(context.Background(), product("sig-1"), "sig-1")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 422, result.StatusCode)

	pub.Err = fmt.Errorf("store unreachable")
	_, err = pub.Publish(context.Background(), product("sig-2"), "sig-2")
	require.ErrorContains(t, err, "store unreachable")
}
