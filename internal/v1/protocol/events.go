// Package protocol defines the wire contract of the signaling endpoint:
// event names, the JSON envelope, acknowledgement results, payload shapes,
// and the error kinds handlers convert into negative acks.
package protocol

// Client → Server events
const (
	EventJoinServer   = "USER_JOIN_SERVER"
	EventLeaveServer  = "USER_LEAVE_SERVER"
	EventJoinChannel  = "USER_JOIN_CHANNEL"
	EventLeaveChannel = "USER_LEAVE_CHANNEL"

	EventChannelMoved  = "CHANNEL_MOVED"
	EventCreateChannel = "CREATE_CHANNEL"
	EventDeleteChannel = "DELETE_CHANNEL"
	EventUpdateChannel = "UPDATE_CHANNEL"

	EventSendMessage   = "SEND_MESSAGE"
	EventFetchMessages = "FETCH_MESSAGES"

	EventGetAllUsers = "GET_ALL_USERS"
	EventGetRoles    = "GET_ROLES"
	EventAssignRole  = "ASSIGN_ROLE"

	// Voice handshake, in fixed order
	EventGetRouterCapabilities = "GET_ROUTER_CAPABILITIES"
	EventCreateTransport       = "CREATE_WEBRTC_TRANSPORT"
	EventConnectTransport      = "CONNECT_TRANSPORT"
	EventProduce               = "PRODUCE"
	EventConsume               = "CONSUME"
	EventResumeConsumer        = "RESUME_CONSUMER"
	EventCloseProducer         = "CLOSE_PRODUCER"
)

// Server → Client events
const (
	EventUserJoined        = "USER_JOINED"
	EventUserLeft          = "USER_LEFT"
	EventChannelTreeUpdate = "CHANNEL_TREE_UPDATE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
	EventMessageReceived   = "MESSAGE_RECEIVED"
	EventChannelCreated    = "CHANNEL_CREATED"
	EventChannelDeleted    = "CHANNEL_DELETED"
	EventError             = "ERROR"
	EventNewProducer       = "NEW_PRODUCER"
	EventProducerClosed    = "PRODUCER_CLOSED"
	EventExistingProducers = "EXISTING_PRODUCERS"

	// EventAck carries the acknowledgement for an inbound event that
	// supplied an ackId.
	EventAck = "ACK"
)
