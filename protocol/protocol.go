// Package protocol defines the JSON wire frames exchanged over the storage
// fabric's websocket transport (spec.md §6). It is imported by both the
// server (wsserver) and the client (wsclient) so the two never drift.
package protocol

import "encoding/json"

// Pre-authentication frame types, sent unencrypted.
const (
	FrameHello      = "hello"
	FrameEncryption = "encryption"
	FrameError      = "error"
	FrameEvent      = "event"
)

// HelloRequest is the client's first, unencrypted frame.
type HelloRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewHelloRequest builds a client hello frame for token.
func NewHelloRequest(token string) HelloRequest {
	return HelloRequest{Type: FrameHello, Token: token}
}

// HelloResponse is the server's unencrypted reply, naming the channel the
// connection has joined.
type HelloResponse struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
}

// EncryptionFrame delivers the sealed session key and IV, unencrypted,
// immediately after HelloResponse.
type EncryptionFrame struct {
	Type          string `json:"type"`
	EncryptionKey string `json:"encryptionKey"`
	IV            string `json:"iv"`
}

// ErrorFrame is sent, unencrypted, on handshake failure, and used
// post-authentication for frames that fail to parse before a correlation id
// is known.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorFrame builds an unencrypted error frame.
func NewErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Error: msg}
}

// Action names a client request's RPC verb.
type Action string

const (
	ActionGet             Action = "get"
	ActionSet             Action = "set"
	ActionDelete          Action = "delete"
	ActionClear           Action = "clear"
	ActionSize            Action = "size"
	ActionKeys            Action = "keys"
	ActionAdminListUsers  Action = "admin_list_users"
	ActionAdminDeleteUser Action = "admin_delete_user"
	ActionAdminUserInfo   Action = "admin_user_info"
)

// Request is one authenticated, AEAD-framed client RPC. Not every field
// applies to every Action; see spec.md §6 for which fields each action
// requires.
type Request struct {
	Action     Action      `json:"action"`
	ID         string      `json:"id"`
	Collection string      `json:"collection,omitempty"`
	Key        string      `json:"key,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	UserID     string      `json:"userId,omitempty"`
}

// Response answers exactly one Request by ID, carrying either Result or
// Error, never both.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EventFrame is an unsolicited, authenticated frame the server broadcasts
// to every other connection sharing a channel when a mutation commits.
type EventFrame struct {
	Type       string      `json:"type"`
	Event      string      `json:"event"`
	Collection string      `json:"collection"`
	Key        string      `json:"key,omitempty"`
	Value      interface{} `json:"value,omitempty"`
}

// NewEventFrame builds a mutation broadcast frame.
func NewEventFrame(kind, collection, key string, value interface{}) EventFrame {
	return EventFrame{Type: FrameEvent, Event: kind, Collection: collection, Key: key, Value: value}
}

// envelopeType peeks at a decoded frame's "type" field without committing to
// a concrete struct, so a receiver can dispatch before fully unmarshaling.
type envelopeType struct {
	Type string `json:"type"`
}

// PeekType returns the "type" field of a JSON frame, or "" if absent (which
// is how authenticated request/response frames are distinguished — they
// carry "id"/"action" or "id"/"result"/"error" instead).
func PeekType(raw []byte) string {
	var e envelopeType
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return e.Type
}

// Result payloads for each action, named to match spec.md §6.

type GetResult struct {
	Collection string      `json:"collection"`
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	Found      bool        `json:"found"`
}

type SetResult struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
}

type DeleteResult struct {
	Success bool `json:"success"`
}

type ClearResult struct {
	Count int `json:"count"`
}

type SizeResult struct {
	Size int `json:"size"`
}

type KeysResult struct {
	Keys []string `json:"keys"`
}

type UserSummary struct {
	UserID   string      `json:"userId"`
	Metadata interface{} `json:"metadata"`
}

type AdminListUsersResult struct {
	Users []UserSummary `json:"users"`
}

type AdminDeleteUserResult struct {
	Success bool `json:"success"`
}

type AdminUserInfoResult struct {
	UserID   string      `json:"userId"`
	Metadata interface{} `json:"metadata"`
}
