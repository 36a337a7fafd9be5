//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(username, email, hashedPassword string) (domain.Identity, error)
	GetUserByEmail(email string) (User, error)
	ListIdentities() ([]domain.Identity, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is the stored account record. Identity is the session-facing
// subset of it.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) Identity() domain.Identity {
	return domain.Identity{
		ID:       domain.IdentityID(u.ID),
		Username: u.Username,
		Email:    u.Email,
		Status:   domain.StatusOffline,
		LastSeen: u.CreatedAt,
	}
}

func userKey(email string) []byte {
	return []byte("user:" + strings.ToLower(email))
}

// CreateUser persists a new account. The email is the uniqueness key.
func (u *UserRepository) CreateUser(username, email, hashedPassword string) (domain.Identity, error) {
	record := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := userKey(email)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return record.Identity(), nil
}

func (u *UserRepository) GetUserByEmail(email string) (User, error) {
	var record User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(email))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrInvalidCredentials
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return User{}, err
	}
	return record, nil
}

// ListIdentities scans every stored account. Feeds the mention scanner.
func (u *UserRepository) ListIdentities() ([]domain.Identity, error) {
	var identities []domain.Identity
	err := u.db.View(func(txn *badger.Txn) error {
		prefix := []byte("user:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}
			identities = append(identities, record.Identity())
		}
		return nil
	})
	return identities, err
}
