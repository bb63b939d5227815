//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const userPrefix = "user:"

type IUserRepository interface {
	Create(user domain.NewUser) (domain.User, error)
	Get(id string) (domain.User, error)
	GetMany(ids []string) ([]domain.User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

func userKey(id string) []byte {
	return []byte(userPrefix + id)
}

// Create stores the user under its username, which is also its id.
// The existence check and the write share one transaction.
func (u *UserRepository) Create(newUser domain.NewUser) (domain.User, error) {
	user := domain.User{
		ID:        newUser.Username,
		Nickname:  newUser.Nickname,
		CreatedAt: time.Now().UTC(),
	}
	err := u.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.ID)
		_, err := txn.Get(key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", errors.ErrUserAlreadyExists, user.ID)
		case !stderrors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, encodeUser(user))
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (u *UserRepository) Get(id string) (domain.User, error) {
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, id)
		return err
	})
	return user, err
}

// GetMany skips ids without a stored user.
func (u *UserRepository) GetMany(ids []string) ([]domain.User, error) {
	users := make([]domain.User, 0, len(ids))
	err := u.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			user, err := getUser(txn, id)
			if stderrors.Is(err, errors.ErrUserNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

func getUser(txn *badger.Txn, id string) (domain.User, error) {
	item, err := txn.Get(userKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, id)
	}
	if err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err = item.Value(func(val []byte) error {
		user, err = decodeUser(val)
		return err
	})
	return user, err
}
