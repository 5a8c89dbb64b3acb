package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// ErrCorruptQueue is returned when the stored queue cannot be parsed.
var ErrCorruptQueue = errors.New("queue: stored queue is corrupt")

// Storage keeps the queue across restarts. The whole queue is written as one
// ordered document under a fixed key; evicted items go to a dead-letter log.
type Storage interface {
	Load(ctx context.Context) ([]Item, error)
	Save(ctx context.Context, items []Item) error
	AppendDeadLetter(ctx context.Context, dl DeadLetter) error
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
	Close() error
}

func encodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	return b, errors.Wrap(err, "queue: encode items")
}

func decodeItems(b []byte) ([]Item, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, errors.Wrapf(ErrCorruptQueue, "%v", err)
	}
	return items, nil
}

// MemoryStorage keeps the serialized queue in process memory. It goes through
// the same encoding as the durable backends.
type MemoryStorage struct {
	mu   sync.Mutex
	doc  []byte
	dead []DeadLetter
}

// NewMemoryStorage returns empty storage.
func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

// NewMemoryStorageFrom seeds the storage with a serialized queue document.
func NewMemoryStorageFrom(doc []byte) *MemoryStorage { return &MemoryStorage{doc: doc} }

func (m *MemoryStorage) Load(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeItems(m.doc)
}

func (m *MemoryStorage) Save(_ context.Context, items []Item) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.doc = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) AppendDeadLetter(_ context.Context, dl DeadLetter) error {
	m.mu.Lock()
	m.dead = append(m.dead, dl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) DeadLetters(_ context.Context) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...), nil
}

func (m *MemoryStorage) Close() error { return nil }
