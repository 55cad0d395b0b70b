package models

// Identity is the authenticated local user. The chat provider identity
// reuses the same ID, so the pair is always 1:1.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Valid reports whether the identity carries an ID
func (i Identity) Valid() bool {
	return i.ID != ""
}

// ClearChatRequest is the body of POST /api/chat/clear
type ClearChatRequest struct {
	ChannelID string `json:"channelId"`
}

// TokenResponse is the body returned by GET /api/chat/token
type TokenResponse struct {
	Token string `json:"token"`
}

// MessageResponse is a plain {"message": "..."} body
type MessageResponse struct {
	Message string `json:"message"`
}
