package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmatch/internal/domain"
)

type memoryStore struct {
	mu       sync.Mutex
	profiles map[string]domain.ProviderProfile
	upserts  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{profiles: make(map[string]domain.ProviderProfile)}
}

func (m *memoryStore) UpsertProfile(_ context.Context, p domain.ProviderProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.profiles[p.ProviderID] = p
	return nil
}

func (m *memoryStore) GetProfile(_ context.Context, id string) (domain.ProviderProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return domain.ProviderProfile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}
	return p, nil
}

func (m *memoryStore) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, id)
	}
	delete(m.profiles, id)
	return nil
}

func (m *memoryStore) StaleProfiles(_ context.Context, dims int) ([]domain.ProviderProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProviderProfile
	for _, p := range m.profiles {
		if len(p.Embedding) != dims {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles), nil
}

func TestProfileSaveEmbedsAndPersists(t *testing.T) {
	store := newMemoryStore()
	embedder := &fakeEmbedder{vec: []float32{0.1, 0.2}}
	bus := &recordingBus{}
	svc := NewProfileService(store, embedder, bus, slog.Default())

	err := svc.Save(context.Background(), domain.ProviderProfile{
		ProviderID:  "p1",
		Description: "Criminal defense attorney with trial experience.",
	})
	require.NoError(t, err)

	saved, err := store.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, saved.Embedding)

	require.Len(t, bus.events, 1)
	assert.Equal(t, domain.EventProfileSaved, bus.events[0].Type)
}

func TestProfileSaveFailClosed(t *testing.T) {
	store := newMemoryStore()
	embedder := &fakeEmbedder{vec: []float32{0.1}}
	svc := NewProfileService(store, embedder, &recordingBus{}, slog.Default())

	// Seed a good version.
	require.NoError(t, svc.Save(context.Background(), domain.ProviderProfile{
		ProviderID:  "p1",
		Description: "Original description.",
	}))

	// The update's embedding call fails: nothing may change.
	embedder.errs = []error{fmt.Errorf("%w: 503", domain.ErrServiceUnavailable)}
	err := svc.Save(context.Background(), domain.ProviderProfile{
		ProviderID:  "p1",
		Description: "Updated description that never got embedded.",
	})
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)

	saved, err := store.GetProfile(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Original description.", saved.Description,
		"a failed save must leave the previous description and vector intact")
	assert.Equal(t, 1, store.upserts)
}

func TestProfileSaveValidation(t *testing.T) {
	svc := NewProfileService(newMemoryStore(), &fakeEmbedder{vec: []float32{1}}, nil, slog.Default())

	err := svc.Save(context.Background(), domain.ProviderProfile{Description: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = svc.Save(context.Background(), domain.ProviderProfile{ProviderID: "p1", Description: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProfileDelete(t *testing.T) {
	store := newMemoryStore()
	bus := &recordingBus{}
	svc := NewProfileService(store, &fakeEmbedder{vec: []float32{1}}, bus, slog.Default())

	require.NoError(t, svc.Save(context.Background(), domain.ProviderProfile{
		ProviderID:  "p1",
		Description: "To be removed.",
	}))
	require.NoError(t, svc.Delete(context.Background(), "p1"))

	_, err := store.GetProfile(context.Background(), "p1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	err = svc.Delete(context.Background(), "p1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	assert.Equal(t, domain.EventProfileDeleted, bus.events[len(bus.events)-1].Type)
}
