package permissions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskHas(t *testing.T) {
	mask := Mask(Connect) | Mask(Speak) // 3

	assert.True(t, mask.Has(Connect))
	assert.True(t, mask.Has(Speak))
	assert.False(t, mask.Has(ManageRoles))
	assert.False(t, mask.Has(SendMessages))
}

func TestMaskHas_AdminShortCircuit(t *testing.T) {
	mask := Mask(Admin) // 256

	for _, flag := range []Flag{Connect, Speak, SendMessages, CreateChannel, ManageChannels, ManageRoles, KickUser, BanUser, Admin} {
		assert.True(t, mask.Has(flag), "admin must pass %d", flag)
	}
}

func TestMaskHas_EmptyMask(t *testing.T) {
	var mask Mask
	assert.False(t, mask.Has(Connect))
}

func TestMaskJSON_DecimalString(t *testing.T) {
	raw, err := json.Marshal(Mask(256))
	require.NoError(t, err)
	assert.Equal(t, `"256"`, string(raw))

	var m Mask
	require.NoError(t, json.Unmarshal([]byte(`"131"`), &m))
	assert.Equal(t, Mask(131), m)

	// Bare numbers are tolerated on input
	require.NoError(t, json.Unmarshal([]byte(`3`), &m))
	assert.Equal(t, Mask(3), m)
}

func TestMaskJSON_HighBitsSurvive(t *testing.T) {
	// Values above 2^53 would lose precision as JSON numbers
	high := Mask(1) << 62
	raw, err := json.Marshal(high)
	require.NoError(t, err)

	var back Mask
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, high, back)
}

func TestMaskScan(t *testing.T) {
	var m Mask
	require.NoError(t, m.Scan("260"))
	assert.Equal(t, Mask(260), m)

	require.NoError(t, m.Scan([]byte("7")))
	assert.Equal(t, Mask(7), m)

	require.NoError(t, m.Scan(nil))
	assert.Equal(t, Mask(0), m)

	assert.Error(t, m.Scan(3.14))
	assert.Error(t, m.Scan("not-a-number"))
}

type stubRoleSource struct {
	masks map[string][]Mask
	err   error
}

func (s *stubRoleSource) RoleMasksForUser(_ context.Context, userID, _ string) ([]Mask, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.masks[userID], nil
}

func TestEvaluatorEffectiveMask(t *testing.T) {
	src := &stubRoleSource{masks: map[string][]Mask{
		"u1": {Mask(Connect), Mask(Speak) | Mask(SendMessages)},
		"u2": {},
	}}
	eval := NewEvaluator(src)

	mask, err := eval.EffectiveMask(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, Mask(Connect)|Mask(Speak)|Mask(SendMessages), mask)

	mask, err = eval.EffectiveMask(context.Background(), "u2", "s1")
	require.NoError(t, err)
	assert.Equal(t, Mask(0), mask)
}

func TestEvaluatorEffectiveMask_SourceError(t *testing.T) {
	eval := NewEvaluator(&stubRoleSource{err: assert.AnError})

	_, err := eval.EffectiveMask(context.Background(), "u1", "s1")
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	denied := assert.AnError

	assert.NoError(t, Require(Mask(SendMessages), SendMessages, denied))
	assert.ErrorIs(t, Require(Mask(Connect), SendMessages, denied), denied)
	assert.NoError(t, Require(Mask(Admin), KickUser, denied))
}
