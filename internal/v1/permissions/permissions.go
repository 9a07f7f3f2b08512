// Package permissions implements the bitwise role permission model. The
// effective mask for a (user, server) pair is the OR of every role mask bound
// to the user on that server; the ADMIN bit short-circuits every check.
package permissions

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Flag is a single permission bit. The mask width is 64 bits; flags above
// ADMIN are reserved for future growth.
type Flag uint64

const (
	Connect        Flag = 1
	Speak          Flag = 2
	SendMessages   Flag = 4
	CreateChannel  Flag = 8
	ManageChannels Flag = 16
	ManageRoles    Flag = 32
	KickUser       Flag = 64
	BanUser        Flag = 128
	Admin          Flag = 256
)

// Mask is a 64-bit permission bitfield. It serializes as a decimal string on
// the wire and in storage to survive JSON numeric precision limits.
type Mask uint64

// Has reports whether every bit of flag is set. A mask carrying the ADMIN bit
// passes every check.
func (m Mask) Has(flag Flag) bool {
	if m&Mask(Admin) == Mask(Admin) {
		return true
	}
	return m&Mask(flag) == Mask(flag)
}

// Union returns the OR of both masks.
func (m Mask) Union(other Mask) Mask {
	return m | other
}

func (m Mask) String() string {
	return strconv.FormatUint(uint64(m), 10)
}

// MarshalJSON encodes the mask as a decimal string.
func (m Mask) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both a decimal string and a bare number.
func (m *Mask) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid permission mask %q: %w", raw, err)
	}
	*m = Mask(v)
	return nil
}

// Value implements driver.Valuer; masks are stored as decimal text.
func (m Mask) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner.
func (m *Mask) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid permission mask %q: %w", v, err)
		}
		*m = Mask(parsed)
	case []byte:
		return m.Scan(string(v))
	case int64:
		*m = Mask(uint64(v))
	case nil:
		*m = 0
	default:
		return fmt.Errorf("cannot scan permission mask from %T", src)
	}
	return nil
}

// RoleSource yields the permission masks of every role bound to a user on a
// server. Satisfied by the durable store.
type RoleSource interface {
	RoleMasksForUser(ctx context.Context, userID, serverID string) ([]Mask, error)
}

// Evaluator computes effective permission masks from role bindings.
type Evaluator struct {
	roles RoleSource
}

func NewEvaluator(roles RoleSource) *Evaluator {
	return &Evaluator{roles: roles}
}

// EffectiveMask returns the OR of every role mask bound to (user, server).
// A user with no roles has an empty mask.
func (e *Evaluator) EffectiveMask(ctx context.Context, userID, serverID string) (Mask, error) {
	masks, err := e.roles.RoleMasksForUser(ctx, userID, serverID)
	if err != nil {
		return 0, fmt.Errorf("resolving role masks for user %s: %w", userID, err)
	}

	var effective Mask
	for _, m := range masks {
		effective = effective.Union(m)
	}
	return effective, nil
}

// Require returns nil when mask carries flag, or the given error otherwise.
func Require(mask Mask, flag Flag, err error) error {
	if mask.Has(flag) {
		return nil
	}
	return err
}
