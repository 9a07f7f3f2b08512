package protocol

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{
		Event: EventSendMessage,
		Data:  json.RawMessage(`{"channelId":"c1","content":"hello"}`),
		AckID: 7,
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, EventSendMessage, out.Event)
	assert.Equal(t, int64(7), out.AckID)

	var req SendMessageRequest
	require.NoError(t, json.Unmarshal(out.Data, &req))
	assert.Equal(t, "c1", req.ChannelID)
	assert.Equal(t, "hello", req.Content)
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Envelope{Event: EventUserLeft})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"USER_LEFT"}`, string(raw))
}

func TestClientMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrNotAuthenticated, "not authenticated"},
		{ErrPermissionDenied, "permission denied"},
		{ErrInvalidInput, "invalid input"},
		{ErrNotFound, "not found"},
		{ErrPreconditionFailed, "precondition failed"},
		{ErrBackendFailure, "internal error"},
		{assert.AnError, "internal error"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ClientMessage(tc.err))
	}
}

func TestClientMessage_Wrapped(t *testing.T) {
	err := fmt.Errorf("channel %q: %w", "c1", ErrNotFound)
	assert.Equal(t, "not found", ClientMessage(err))
}

func TestAckResult_ErrorOmittedOnSuccess(t *testing.T) {
	raw, err := json.Marshal(AckResult{AckID: 3, Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ackId":3,"success":true}`, string(raw))
}
