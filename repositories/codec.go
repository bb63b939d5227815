package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored as protobuf messages built with protowire.
// Field numbers are part of the on-disk format: never renumber them.
const (
	userFieldID        protowire.Number = 1
	userFieldNickname  protowire.Number = 2
	userFieldCreatedAt protowire.Number = 3

	roomFieldID          protowire.Number = 1
	roomFieldLastMessage protowire.Number = 2
	roomFieldParticipant protowire.Number = 3
	roomFieldCreatedAt   protowire.Number = 4

	convFieldID        protowire.Number = 1
	convFieldUserID    protowire.Number = 2
	convFieldRoomID    protowire.Number = 3
	convFieldMessage   protowire.Number = 4
	convFieldLang      protowire.Number = 5
	convFieldCreatedAt protowire.Number = 6
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(t.UnixNano()))
}

// field is a decoded protobuf field, bytes fields keep their raw value.
type field struct {
	num    protowire.Number
	varint uint64
	bytes  []byte
}

// walk decodes every field of a record and hands it to visit.
// Unknown wire types are skipped so older binaries can read newer records.
func walk(data []byte, visit func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, protowire.ParseError(n))
		}
		data = data[n:]

		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, protowire.ParseError(m))
			}
			f.varint, n = v, m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, protowire.ParseError(m))
			}
			f.bytes, n = v, m
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		data = data[n:]
		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func unixNano(v uint64) time.Time {
	return time.Unix(0, int64(v)).UTC()
}

func encodeUser(u domain.User) []byte {
	var b []byte
	b = appendString(b, userFieldID, u.ID)
	b = appendString(b, userFieldNickname, u.Nickname)
	b = appendTime(b, userFieldCreatedAt, u.CreatedAt)
	return b
}

func decodeUser(data []byte) (domain.User, error) {
	var u domain.User
	err := walk(data, func(f field) error {
		switch f.num {
		case userFieldID:
			u.ID = string(f.bytes)
		case userFieldNickname:
			u.Nickname = string(f.bytes)
		case userFieldCreatedAt:
			u.CreatedAt = unixNano(f.varint)
		}
		return nil
	})
	return u, err
}

func encodeRoom(r domain.Room) []byte {
	var b []byte
	b = appendString(b, roomFieldID, r.ID)
	b = appendString(b, roomFieldLastMessage, r.LastMessage)
	for _, id := range r.ParticipantIDs {
		b = protowire.AppendTag(b, roomFieldParticipant, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	b = appendTime(b, roomFieldCreatedAt, r.CreatedAt)
	return b
}

func decodeRoom(data []byte) (domain.Room, error) {
	r := domain.Room{ParticipantIDs: []string{}}
	err := walk(data, func(f field) error {
		switch f.num {
		case roomFieldID:
			r.ID = string(f.bytes)
		case roomFieldLastMessage:
			r.LastMessage = string(f.bytes)
		case roomFieldParticipant:
			r.ParticipantIDs = append(r.ParticipantIDs, string(f.bytes))
		case roomFieldCreatedAt:
			r.CreatedAt = unixNano(f.varint)
		}
		return nil
	})
	return r, err
}

func encodeConversation(c domain.Conversation) []byte {
	var b []byte
	b = appendString(b, convFieldID, c.ID.String())
	b = appendString(b, convFieldUserID, c.UserID)
	b = appendString(b, convFieldRoomID, c.RoomID)
	b = appendString(b, convFieldMessage, c.Message)
	b = appendString(b, convFieldLang, c.Lang)
	b = appendTime(b, convFieldCreatedAt, c.CreatedAt)
	return b
}

func decodeConversation(data []byte) (domain.Conversation, error) {
	var c domain.Conversation
	err := walk(data, func(f field) error {
		switch f.num {
		case convFieldID:
			id, err := uuid.ParseBytes(f.bytes)
			if err != nil {
				return fmt.Errorf("%w: %v", errors.ErrInvalidRecord, err)
			}
			c.ID = id
		case convFieldUserID:
			c.UserID = string(f.bytes)
		case convFieldRoomID:
			c.RoomID = string(f.bytes)
		case convFieldMessage:
			c.Message = string(f.bytes)
		case convFieldLang:
			c.Lang = string(f.bytes)
		case convFieldCreatedAt:
			c.CreatedAt = unixNano(f.varint)
		}
		return nil
	})
	return c, err
}
