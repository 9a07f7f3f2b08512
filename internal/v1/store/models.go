// Package store is the durable persistence layer backed by SQLite. It owns
// servers, the channel rows the tree is built from, users, roles, role
// bindings and chat messages. Volatile presence never touches this package.
package store

import (
	"time"

	"github.com/reson8/reson8/server/go/internal/v1/permissions"
)

// ChannelType distinguishes text rooms from voice rooms. Any channel may hold
// children regardless of type; only TEXT channels accept messages and only
// VOICE channels accept media sessions.
type ChannelType string

const (
	ChannelText  ChannelType = "TEXT"
	ChannelVoice ChannelType = "VOICE"
)

func (t ChannelType) Valid() bool {
	return t == ChannelText || t == ChannelVoice
}

type Server struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	MaxClients int       `json:"maxClients"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Channel struct {
	ID        string      `json:"id"`
	ServerID  string      `json:"serverId"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	ParentID  *string     `json:"parentId"`
	Position  int         `json:"position"`
	MaxUsers  *int        `json:"maxUsers,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	// Secret is the opaque credential supplied at first connect. It never
	// leaves the server.
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

type Role struct {
	ID          string           `json:"id"`
	ServerID    string           `json:"serverId"`
	Name        string           `json:"name"`
	Permissions permissions.Mask `json:"permissions"`
	PowerLevel  int              `json:"powerLevel"`
	Color       string           `json:"color,omitempty"`
	IsDefault   bool             `json:"isDefault"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Nickname  string    `json:"nickname"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
