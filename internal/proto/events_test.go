package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStreamEvent(t *testing.T) {
	t.Parallel()

	ev, err := DecodeStreamEvent("model_error", []byte(`{"model":"a","error":"unauthorized","skipped":true}`))
	require.NoError(t, err)
	require.Equal(t, EventModelError, ev.Type)
	require.Equal(t, ModelError{Model: "a", Error: "unauthorized", Skipped: true}, ev.Data)

	ev, err = DecodeStreamEvent("round_end", []byte(`{"round":2,"awaiting_decision":true}`))
	require.NoError(t, err)
	require.Equal(t, RoundEnd{Round: 2, AwaitingDecision: true}, ev.Data)

	_, err = DecodeStreamEvent("nope", []byte(`{}`))
	require.Error(t, err)
}
