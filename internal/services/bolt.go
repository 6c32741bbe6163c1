package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the Store interface using a BoltDB backend for persistent storage of the
// conversation transcript and its metadata. Every operation runs in its own bbolt transaction, so a
// returned nil error means the change is committed to disk.
type BoltDB struct {
	db *bolt.DB
}

const schemaVersion = 1

var (
	chatsBucket    = []byte("chats")
	metadataBucket = []byte("metadata")
	schemaBucket   = []byte("schema")

	versionKey = []byte("version")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and records the schema version on first open. Opening a database written by
// a newer schema version fails. The database file is created with 0600 permissions if it doesn't
// exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		sb, err := tx.CreateBucketIfNotExists(schemaBucket)
		if err != nil {
			return fmt.Errorf("failed to create schema bucket: %w", err)
		}

		version := uint64(0)
		if v := sb.Get(versionKey); v != nil {
			version = binary.BigEndian.Uint64(v)
		}
		if version > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
		}

		for _, name := range [][]byte{chatsBucket, metadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		if version == schemaVersion {
			return nil
		}
		return sb.Put(versionKey, itob(schemaVersion))
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, err
	}

	return BoltDB{db: db}, nil
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func itob(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// AddMessage appends a new message with the given role and content. The message ID is taken from the
// bucket sequence and the timestamp is set to the current time in UTC. Invalid UTF-8 in content is
// replaced with U+FFFD before storing. It returns the message as stored.
func (b BoltDB) AddMessage(_ context.Context, role models.Role, content string) (models.Message, error) {
	if err := role.Validate(); err != nil {
		return models.Message{}, err
	}

	// JSON encoding would replace invalid bytes anyway, the returned message must match a reload.
	content = strings.ToValidUTF8(content, "\uFFFD")

	message := models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatsBucket)

		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		message.ID = id

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return b.Put(itob(id), v)
	})
	if err != nil {
		return models.Message{}, err
	}

	return message, nil
}

// Messages retrieves every stored message in insertion order. It returns an empty slice when the
// transcript is empty.
func (b BoltDB) Messages(context.Context) ([]models.Message, error) {
	messages := []models.Message{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chatsBucket).ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// SetMetadata stores value under key, replacing any previous value. The value is stored as JSON.
func (b BoltDB) SetMetadata(_ context.Context, key string, value any) error {
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata %s: %w", key, err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put([]byte(key), v)
	})
}

// Metadata returns the JSON value stored under key, or nil if the key is absent.
func (b BoltDB) Metadata(_ context.Context, key string) (json.RawMessage, error) {
	var value json.RawMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		// Bolt values are only valid for the life of the transaction.
		value = append(json.RawMessage(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Clear removes every message and metadata entry in a single transaction. The message sequence is
// carried over to the emptied bucket, so IDs assigned after a clear keep increasing.
func (b BoltDB) Clear(context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		seq := tx.Bucket(chatsBucket).Sequence()

		for _, name := range [][]byte{chatsBucket, metadataBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		if err := tx.Bucket(chatsBucket).SetSequence(seq); err != nil {
			return fmt.Errorf("failed to restore sequence: %w", err)
		}
		return nil
	})
}
