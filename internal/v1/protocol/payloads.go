package protocol

import "encoding/json"

// Envelope is the JSON frame carried on the WebSocket in both directions.
// Inbound frames may carry an AckID; outbound frames carry a monotonically
// increasing Seq so clients can detect gaps.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
	Seq   int64           `json:"seq,omitempty"`
}

// AckResult is the acknowledgement body for an inbound event. Every
// ack-carrying event is acknowledged exactly once.
type AckResult struct {
	AckID   int64  `json:"ackId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// --- Client → Server payloads ---

type JoinServerRequest struct {
	ServerID string `json:"serverId,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Nickname string `json:"nickname"`
	Secret   string `json:"secret,omitempty"`
}

type JoinChannelRequest struct {
	ChannelID string `json:"channelId"`
}

type LeaveChannelRequest struct {
	ChannelID string `json:"channelId,omitempty"`
}

type CreateChannelRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parentId,omitempty"`
	Position *int   `json:"position,omitempty"`
	MaxUsers *int   `json:"maxUsers,omitempty"`
}

type UpdateChannelRequest struct {
	ChannelID string  `json:"channelId"`
	Name      *string `json:"name,omitempty"`
	ParentID  *string `json:"parentId,omitempty"`
	Position  *int    `json:"position,omitempty"`
	MaxUsers  *int    `json:"maxUsers,omitempty"`
}

type DeleteChannelRequest struct {
	ChannelID string `json:"channelId"`
}

type MoveChannelRequest struct {
	ChannelID string  `json:"channelId"`
	ParentID  *string `json:"parentId"`
	Position  int     `json:"position"`
}

type SendMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

type FetchMessagesRequest struct {
	ChannelID string `json:"channelId"`
	Limit     int    `json:"limit,omitempty"`
	// Before is an exclusive ISO-8601 pagination cursor.
	Before string `json:"before,omitempty"`
}

type AssignRoleRequest struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
	Action string `json:"action"` // "add" or "remove"
}

// --- Voice handshake payloads ---

type GetRouterCapabilitiesRequest struct {
	ChannelID string `json:"channelId"`
}

type CreateTransportRequest struct {
	ChannelID string `json:"channelId"`
	Direction string `json:"direction"` // "send" or "recv"
}

type ConnectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type ProduceRequest struct {
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

type ConsumeRequest struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId"`
}

// --- Server → Client payloads ---

type UserJoined struct {
	ServerID string `json:"serverId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

type UserLeft struct {
	ServerID string `json:"serverId"`
	UserID   string `json:"userId"`
}

type PresenceUpdate struct {
	ServerID  string `json:"serverId"`
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	ChannelID string `json:"channelId,omitempty"`
}

type ChannelDeleted struct {
	ChannelID string `json:"channelId"`
}

type NewProducer struct {
	ChannelID  string `json:"channelId"`
	UserID     string `json:"userId"`
	Nickname   string `json:"nickname"`
	ProducerID string `json:"producerId"`
}

type ProducerClosed struct {
	ChannelID  string `json:"channelId"`
	UserID     string `json:"userId"`
	ProducerID string `json:"producerId"`
}

type ExistingProducers struct {
	ChannelID string        `json:"channelId"`
	Producers []NewProducer `json:"producers"`
}

type ErrorEvent struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
