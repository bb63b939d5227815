//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/domain/search"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
)

const (
	conversationPrefix = "conv:"
	// {19 digits unix nano}:{uuid}
	cursorLen = 19 + 1 + 36

	fieldMessage   = "message"
	fieldRoomID    = "room_id"
	fieldUserID    = "user_id"
	fieldCreatedAt = "created_at"
	fieldDocID     = "_id"
)

type IConversationRepository interface {
	Store(conversation domain.Conversation) error
	Index(conversation domain.Conversation) error
	GetConversations(roomID string, cursor *string) ([]domain.Conversation, *string, error)
	Search(ctx context.Context, query search.Query) ([]domain.Conversation, error)
}

type ConversationRepository struct {
	db            *badger.DB
	writer        *bluge.Writer
	log           *slog.Logger
	limitMessages *int
}

func NewConversationRepository(db *badger.DB, writer *bluge.Writer, log *slog.Logger, limitMessages *int) *ConversationRepository {
	return &ConversationRepository{db: db, writer: writer, log: log, limitMessages: limitMessages}
}

// conversationKey is "conv:{room_id}:{unixnano padded to 19 digits}:{uuid}".
// The padding keeps keys of one room in chronological order and the uuid
// separates two conversations stored within the same nanosecond.
func conversationKey(c domain.Conversation) string {
	return fmt.Sprintf("%s%s:%019d:%s", conversationPrefix, c.RoomID, c.CreatedAt.UnixNano(), c.ID)
}

func roomConversationPrefix(roomID string) string {
	return conversationPrefix + roomID + ":"
}

func (r *ConversationRepository) Store(conversation domain.Conversation) error {
	key := []byte(conversationKey(conversation))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, encodeConversation(conversation))
	})
}

// Index makes the conversation searchable. The document id is the badger key.
func (r *ConversationRepository) Index(conversation domain.Conversation) error {
	doc := bluge.NewDocument(conversationKey(conversation)).
		AddField(bluge.NewTextField(fieldMessage, conversation.Message)).
		AddField(bluge.NewKeywordField(fieldRoomID, conversation.RoomID).StoreValue()).
		AddField(bluge.NewKeywordField(fieldUserID, conversation.UserID).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, conversation.CreatedAt).StoreValue().Sortable())
	return r.writer.Update(doc.ID(), doc)
}

// GetConversations walks a room backwards, newest first.
// The returned cursor points after the last conversation of the page and is nil
// once the room has nothing older.
func (r *ConversationRepository) GetConversations(roomID string, cursor *string) ([]domain.Conversation, *string, error) {
	var (
		conversations []domain.Conversation
		lastKey       string
		more          bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		prefixStr := roomConversationPrefix(roomID)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}
		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := string(item.Key()[len(prefix):])
			// Rooms whose name extends this one share the prefix.
			if len(rest) != cursorLen || rest[19] != ':' {
				continue
			}
			if r.limitMessages != nil && len(conversations) == *r.limitMessages {
				r.log.Debug(fmt.Sprintf("Maximum of %d conversations reached", *r.limitMessages))
				more = true
				break
			}
			err := item.Value(func(val []byte) error {
				conversation, err := decodeConversation(val)
				if err != nil {
					return err
				}
				conversations = append(conversations, conversation)
				return nil
			})
			if err != nil {
				return err
			}
			lastKey = rest
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !more {
		return conversations, nil, nil
	}
	return conversations, &lastKey, nil
}

// Search runs a full-text query over the indexed messages, optionally scoped
// to one room, and loads the matching conversations from badger.
func (r *ConversationRepository) Search(ctx context.Context, query search.Query) ([]domain.Conversation, error) {
	if query.Empty() {
		return nil, errors.ErrEmptySearch
	}
	reader, err := r.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open index reader: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			r.log.Debug("Failed to close index reader", "error", err)
		}
	}()

	var q bluge.Query = bluge.NewMatchQuery(query.Terms).SetField(fieldMessage)
	if query.RoomID != "" {
		q = bluge.NewBooleanQuery().
			AddMust(q).
			AddMust(bluge.NewTermQuery(query.RoomID).SetField(fieldRoomID))
	}
	limit := query.Limit
	if limit <= 0 {
		limit = search.DefaultLimit
	}

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q).SortBy([]string{"-" + fieldCreatedAt}))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var keys []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(name string, value []byte) bool {
			if name == fieldDocID {
				keys = append(keys, string(value))
				return false
			}
			return true
		})
		if err != nil {
			break
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	return r.load(keys)
}

// load keeps the index order and skips keys that are no longer in badger.
func (r *ConversationRepository) load(keys []string) ([]domain.Conversation, error) {
	conversations := make([]domain.Conversation, 0, len(keys))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				r.log.Debug("Indexed conversation missing from store", "key", key)
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				conversation, err := decodeConversation(val)
				if err != nil {
					return err
				}
				conversations = append(conversations, conversation)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return conversations, err
}
