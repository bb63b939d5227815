package domain

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SessionID identifies a live connection. It is unique among live sessions only.
type SessionID uint64

// NoSession is the sentinel used as exclude id when a broadcast has no sender.
const NoSession SessionID = 0

type RoomName string

const DefaultRoom RoomName = "main"

const disconnectNotice = "Someone disconnected!"

type ChatType int

const (
	Typing ChatType = iota + 1
	Text
	Connect
	Disconnect
)

var chatTypeNames = map[ChatType]string{
	Typing:     "TYPING",
	Text:       "TEXT",
	Connect:    "CONNECT",
	Disconnect: "DISCONNECT",
}

func (c ChatType) String() string {
	if name, ok := chatTypeNames[c]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

func ParseChatType(s string) (ChatType, error) {
	for t, name := range chatTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errors.ErrInvalidChatType, s)
}

func (c ChatType) MarshalJSON() ([]byte, error) {
	name, ok := chatTypeNames[c]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrInvalidChatType, int(c))
	}
	return json.Marshal(name)
}

func (c *ChatType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrInvalidChatType, string(data))
	}
	t, err := ParseChatType(s)
	if err != nil {
		return err
	}
	*c = t
	return nil
}

// ChatPayload is the envelope exchanged with clients over the websocket.
type ChatPayload struct {
	Type   ChatType  `json:"chat_type"`
	Values []string  `json:"value"`
	RoomID string    `json:"room_id"`
	UserID string    `json:"user_id"`
	ID     SessionID `json:"id"`
}

// Text joins the value sequence the way conversations are stored.
func (p ChatPayload) Text() string {
	return strings.Join(p.Values, "")
}

// ParsePayload decodes an inbound text frame. chat_type is mandatory,
// every other field falls back to its zero value.
func ParsePayload(data []byte) (ChatPayload, error) {
	var raw struct {
		Type   *ChatType `json:"chat_type"`
		Values []string  `json:"value"`
		RoomID string    `json:"room_id"`
		UserID string    `json:"user_id"`
		ID     SessionID `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChatPayload{}, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if raw.Type == nil {
		return ChatPayload{}, fmt.Errorf("%w: missing chat_type", errors.ErrInvalidPayload)
	}
	return ChatPayload{
		Type:   *raw.Type,
		Values: raw.Values,
		RoomID: raw.RoomID,
		UserID: raw.UserID,
		ID:     raw.ID,
	}, nil
}

// Encode serializes the payload for the wire. A nil value list is sent as [].
func (p ChatPayload) Encode() ([]byte, error) {
	if p.Values == nil {
		p.Values = []string{}
	}
	return json.Marshal(p)
}

func NewConnectPayload(id SessionID, room RoomName) ChatPayload {
	return ChatPayload{
		Type:   Connect,
		Values: []string{strconv.FormatUint(uint64(id), 10)},
		RoomID: string(room),
		ID:     id,
	}
}

func NewDisconnectPayload(id SessionID, room RoomName) ChatPayload {
	return ChatPayload{
		Type:   Disconnect,
		Values: []string{disconnectNotice},
		RoomID: string(room),
		ID:     id,
	}
}
