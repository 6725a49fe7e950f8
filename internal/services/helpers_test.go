package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/winepair-be/internal/models"
)

var testEpoch = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// memoryStore is an in-memory DocumentStore.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string][]models.Document
	listErrs    map[string]error
	deleteCalls int
	insertCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		collections: map[string][]models.Document{},
		listErrs:    map[string]error{},
	}
}

func (m *memoryStore) set(collection string, docs ...models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append([]models.Document{}, docs...)
}

func (m *memoryStore) docs(collection string) []models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Document{}, m.collections[collection]...)
}

func (m *memoryStore) ListDocuments(_ context.Context, collection string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.listErrs[collection]; err != nil {
		return nil, err
	}
	docs, ok := m.collections[collection]
	if !ok {
		return nil, errors.NotFoundf("collection %q", collection)
	}
	return append([]models.Document{}, docs...), nil
}

func (m *memoryStore) DeleteAll(_ context.Context, collection string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	n := int64(len(m.collections[collection]))
	m.collections[collection] = []models.Document{}
	return n, nil
}

func (m *memoryStore) InsertMany(_ context.Context, collection string, docs []models.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	m.collections[collection] = append(m.collections[collection], docs...)
	return int64(len(docs)), nil
}

// recordingEvents is an EventServiceProvider that keeps events in memory.
type recordingEvents struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEvents) CreateEvent(_ context.Context, eventType, level, message string, collection *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.Event{Type: eventType, Level: level, Message: message, Collection: collection})
	return nil
}

func (r *recordingEvents) GetRecentEvents(_ context.Context, limit int) ([]models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event{}, r.events...), nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	dir     string
	store   *memoryStore
	events  *recordingEvents
	clock   *testclock.Clock
	service *BackupService
}

func newTestEnv(t *testing.T, collections []string, mutate ...func(*BackupOptions)) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:    filepath.Join(t.TempDir(), "backups"),
		store:  newMemoryStore(),
		events: &recordingEvents{},
		clock:  testclock.NewClock(testEpoch),
	}
	opts := BackupOptions{
		Dir:                env.dir,
		Collections:        collections,
		Retention:          models.RetentionPolicy{MinKeep: 1},
		ClearBeforeRestore: true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	env.service = NewBackupService(env.store, env.events, env.clock, opts)
	return env
}

// files lists the backup files of a collection.
func (e *testEnv) files(t *testing.T, collection string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(e.dir, collection))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// writeFixture places a backup file of a collection created at the given time.
func (e *testEnv) writeFixture(t *testing.T, collection string, createdAt time.Time, content string) string {
	t.Helper()
	dir := filepath.Join(e.dir, collection)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	name := backupFileName(collection, createdAt)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return name
}
