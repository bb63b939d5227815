//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	roomPrefix = "room:"
	// touchAttempts bounds the retries when concurrent writers update the same room.
	touchAttempts = 5
)

type IRoomRepository interface {
	Find(id string) (domain.Room, error)
	List() ([]domain.Room, error)
	Touch(id, lastMessage, participantID string, at time.Time) (domain.Room, error)
}

type RoomRepository struct {
	db *badger.DB
}

func NewRoomRepository(db *badger.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

func roomKey(id string) []byte {
	return []byte(roomPrefix + id)
}

func (r *RoomRepository) Find(id string) (domain.Room, error) {
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = getRoom(txn, id)
		return err
	})
	return room, err
}

// List returns every stored room ordered by id.
func (r *RoomRepository) List() ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				room, err := decodeRoom(val)
				if err != nil {
					return err
				}
				rooms = append(rooms, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rooms, err
}

// Touch creates the room on its first message, then keeps the last message
// and the set of participants up to date.
func (r *RoomRepository) Touch(id, lastMessage, participantID string, at time.Time) (domain.Room, error) {
	var (
		room domain.Room
		err  error
	)
	for attempt := 1; attempt <= touchAttempts; attempt++ {
		room, err = r.touch(id, lastMessage, participantID, at)
		if !stderrors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return room, err
}

func (r *RoomRepository) touch(id, lastMessage, participantID string, at time.Time) (domain.Room, error) {
	var room domain.Room
	err := r.db.Update(func(txn *badger.Txn) error {
		var err error
		room, err = getRoom(txn, id)
		switch {
		case stderrors.Is(err, errors.ErrRoomNotFound):
			room = domain.Room{ID: id, ParticipantIDs: []string{}, CreatedAt: at.UTC()}
		case err != nil:
			return err
		}
		room.LastMessage = lastMessage
		if participantID != "" {
			room.ParticipantIDs = lo.Uniq(append(room.ParticipantIDs, participantID))
		}
		return txn.Set(roomKey(id), encodeRoom(room))
	})
	if err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

func getRoom(txn *badger.Txn, id string) (domain.Room, error) {
	item, err := txn.Get(roomKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Room{}, fmt.Errorf("%w: %s", errors.ErrRoomNotFound, id)
	}
	if err != nil {
		return domain.Room{}, err
	}
	var room domain.Room
	err = item.Value(func(val []byte) error {
		room, err = decodeRoom(val)
		return err
	})
	return room, err
}
