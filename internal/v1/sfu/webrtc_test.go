package sfu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanConsume(t *testing.T) {
	assert.True(t, canConsume(nil), "capabilities are optional")
	assert.True(t, canConsume(json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)))
	assert.True(t, canConsume(json.RawMessage(`{"codecs":[{"mimeType":"AUDIO/OPUS"}]}`)), "mime types compare case-insensitively")
	assert.False(t, canConsume(json.RawMessage(`{"codecs":[{"mimeType":"audio/PCMU"}]}`)))
	assert.False(t, canConsume(json.RawMessage(`{"codecs":[]}`)))
	assert.False(t, canConsume(json.RawMessage(`not json`)))
}
