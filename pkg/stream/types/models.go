package types

import (
	"fmt"
	"time"
)

// User is the provider-side identity. Its ID equals the local user id.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Message is a chat message as returned by the provider
type Message struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Type      string     `json:"type,omitempty"`
	User      *User      `json:"user,omitempty"`
	CID       string     `json:"cid,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AuthorID returns the id of the message author, or "" when unknown
func (m Message) AuthorID() string {
	if m.User == nil {
		return ""
	}
	return m.User.ID
}

// Member is a channel membership entry
type Member struct {
	UserID string `json:"user_id"`
	User   *User  `json:"user,omitempty"`
}

// Channel describes a provider channel
type Channel struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	CID         string `json:"cid"`
	MemberCount int    `json:"member_count,omitempty"`
}

// ChannelState is the response to a channel query/watch
type ChannelState struct {
	Channel  Channel   `json:"channel"`
	Messages []Message `json:"messages"`
	Members  []Member  `json:"members"`
}

// HasMember reports whether userID is among the channel members
func (s ChannelState) HasMember(userID string) bool {
	for _, m := range s.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Event is a realtime event pushed over the websocket
type Event struct {
	Type         string   `json:"type"`
	CID          string   `json:"cid,omitempty"`
	ConnectionID string   `json:"connection_id,omitempty"`
	Message      *Message `json:"message,omitempty"`
	User         *User    `json:"user,omitempty"`
	HardDelete   bool     `json:"hard_delete,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
}

// Event types the client reacts to
const (
	EventHealthCheck      = "health.check"
	EventConnectionError  = "connection.error"
	EventMessageNew       = "message.new"
	EventMessageDeleted   = "message.deleted"
	EventChannelTruncated = "channel.truncated"
)

// ChannelQueryRequest is the body of POST /channels/{type}/{id}/query
type ChannelQueryRequest struct {
	State        bool              `json:"state"`
	Watch        bool              `json:"watch"`
	Presence     bool              `json:"presence"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Data         *ChannelQueryData `json:"data,omitempty"`
}

// ChannelQueryData carries channel creation data
type ChannelQueryData struct {
	Members     []string `json:"members,omitempty"`
	CreatedByID string   `json:"created_by_id,omitempty"`
}

// SendMessageRequest is the body of POST /channels/{type}/{id}/message
type SendMessageRequest struct {
	Message MessageRequest `json:"message"`
}

// MessageRequest is the message payload of a send
type MessageRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MessageResponse wraps a single message
type MessageResponse struct {
	Message Message `json:"message"`
}

// TruncateRequest is the body of POST /channels/{type}/{id}/truncate
type TruncateRequest struct {
	HardDelete bool `json:"hard_delete"`
}

// MembersQuery is the payload of GET /members
type MembersQuery struct {
	Type             string                 `json:"type"`
	ID               string                 `json:"id"`
	FilterConditions map[string]interface{} `json:"filter_conditions"`
}

// MembersResponse is the response of GET /members
type MembersResponse struct {
	Members []Member `json:"members"`
}

// ConnectRequest is the json query parameter of the websocket handshake
type ConnectRequest struct {
	UserID                       string `json:"user_id"`
	UserDetails                  User   `json:"user_details"`
	ServerDeterminesConnectionID bool   `json:"server_determines_connection_id"`
}

// APIError is the provider's error body
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"StatusCode"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stream error %d (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}
