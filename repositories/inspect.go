package repositories

import (
	"fmt"
	"strings"
)

// Record kinds as reported by DescribeRecord.
const (
	KindUser         = "USER"
	KindRoom         = "ROOM"
	KindConversation = "CONVERSATION"
	KindUnknown      = "UNKNOWN"
	KindInvalid      = "INVALID"
)

// Prefixes lists every key prefix the repositories write to.
var Prefixes = []string{userPrefix, roomPrefix, conversationPrefix}

// DescribeRecord decodes a raw badger entry into a printable kind and detail.
// Used by the debug inspector and the badger dump tool.
func DescribeRecord(key string, val []byte) (kind, detail string) {
	switch {
	case strings.HasPrefix(key, userPrefix):
		user, err := decodeUser(val)
		if err != nil {
			return KindInvalid, err.Error()
		}
		return KindUser, user.Nickname
	case strings.HasPrefix(key, roomPrefix):
		room, err := decodeRoom(val)
		if err != nil {
			return KindInvalid, err.Error()
		}
		return KindRoom, fmt.Sprintf("%d participant(s), last: %q", len(room.ParticipantIDs), room.LastMessage)
	case strings.HasPrefix(key, conversationPrefix):
		conversation, err := decodeConversation(val)
		if err != nil {
			return KindInvalid, err.Error()
		}
		detail = fmt.Sprintf("%s: %s", conversation.UserID, conversation.Message)
		if conversation.Lang != "" {
			detail += " (" + conversation.Lang + ")"
		}
		return KindConversation, detail
	default:
		return KindUnknown, fmt.Sprintf("%d bytes", len(val))
	}
}
