// Package storage persists conversations and messages in a local bbolt
// database. Conversations live in one bucket keyed by id; each
// conversation's messages live in a nested bucket keyed by sequence number
// so iteration preserves append order.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/officeai/privacy-gateway/internal/model/chat"
)

var (
	// ErrConversationNotFound is returned for lookups of unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrPersistenceFailure wraps storage-level commit failures.
	ErrPersistenceFailure = errors.New("persistence failure")
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

// Store is a bbolt-backed conversation store.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database file and ensures the buckets exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx exposes the store operations inside one scoped transaction. All writes
// made through a Tx commit together or not at all.
type Tx struct {
	tx *bolt.Tx
}

// WithTx runs fn inside a single read-write transaction. The transaction
// commits when fn returns nil and rolls back otherwise; the error is wrapped
// as a persistence failure.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	err := s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// FindConversation looks up a conversation by id. Returns nil when absent.
func (t *Tx) FindConversation(id string) (*chat.Conversation, error) {
	raw := t.tx.Bucket(bucketConversations).Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var conv chat.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

// CreateConversation persists a new conversation, generating an id when the
// caller supplied none.
func (t *Tx) CreateConversation(conv chat.Conversation) (chat.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	raw, err := json.Marshal(conv)
	if err != nil {
		return chat.Conversation{}, err
	}
	if err := t.tx.Bucket(bucketConversations).Put([]byte(conv.ID), raw); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// AppendMessage adds a message to its conversation's log.
func (t *Tx) AppendMessage(msg chat.Message) (chat.Message, error) {
	if msg.ConversationID == "" {
		return chat.Message{}, errors.New("message without conversation id")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	bucket, err := t.tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.ConversationID))
	if err != nil {
		return chat.Message{}, err
	}
	seq, err := bucket.NextSequence()
	if err != nil {
		return chat.Message{}, err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, err
	}
	if err := bucket.Put(itob(seq), raw); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// Conversation reads one conversation outside a turn transaction.
func (s *Store) Conversation(id string) (*chat.Conversation, error) {
	var conv *chat.Conversation
	err := s.db.View(func(btx *bolt.Tx) error {
		var err error
		conv, err = (&Tx{tx: btx}).FindConversation(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// Messages returns a conversation's messages in append order.
func (s *Store) Messages(conversationID string) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.db.View(func(btx *bolt.Tx) error {
		if btx.Bucket(bucketConversations).Get([]byte(conversationID)) == nil {
			return ErrConversationNotFound
		}
		bucket := btx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var msg chat.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			messages = append(messages, msg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// itob encodes a bucket sequence number as a big-endian key so byte order
// matches append order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
