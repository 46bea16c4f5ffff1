package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lexmatch/internal/domain"
)

// ProfileStore is the write side of the provider corpus.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p domain.ProviderProfile) error
	GetProfile(ctx context.Context, providerID string) (domain.ProviderProfile, error)
	DeleteProfile(ctx context.Context, providerID string) error
	StaleProfiles(ctx context.Context, dims int) ([]domain.ProviderProfile, error)
	Count(ctx context.Context) (int, error)
}

// ProfileService maintains the provider corpus. Saves are fail-closed: a
// profile is only persisted together with an embedding freshly computed from
// its description, so a stale vector can never shadow a newer description.
type ProfileService struct {
	store    ProfileStore
	embedder domain.EmbeddingProvider
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewProfileService wires a profile service.
func NewProfileService(store ProfileStore, embedder domain.EmbeddingProvider, bus domain.EventBus, logger *slog.Logger) *ProfileService {
	return &ProfileService{store: store, embedder: embedder, bus: bus, logger: logger}
}

// Save embeds the profile's description and persists both atomically. If
// embedding fails the profile is not written at all and the previous stored
// version, description and vector both, stays intact.
func (s *ProfileService) Save(ctx context.Context, p domain.ProviderProfile) error {
	if p.ProviderID == "" {
		return fmt.Errorf("%w: missing provider_id", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description must not be empty", domain.ErrInvalidInput)
	}

	vecs, err := s.embedder.Embed(ctx, []string{p.Description})
	if err != nil {
		s.logger.Error("profile save rejected, embedding failed",
			"provider_id", p.ProviderID,
			"error", err,
		)
		return fmt.Errorf("embed description for %s: %w", p.ProviderID, err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrMalformedResponse, len(vecs))
	}
	p.Embedding = vecs[0]

	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return err
	}

	s.publish(ctx, domain.EventProfileSaved, domain.ProfilePayload{
		ProviderID: p.ProviderID,
		Dimensions: len(p.Embedding),
	})
	s.logger.Info("profile saved", "provider_id", p.ProviderID, "dimensions", len(p.Embedding))
	return nil
}

// Delete removes a provider from the corpus.
func (s *ProfileService) Delete(ctx context.Context, providerID string) error {
	if providerID == "" {
		return fmt.Errorf("%w: missing provider_id", domain.ErrInvalidInput)
	}
	if err := s.store.DeleteProfile(ctx, providerID); err != nil {
		return err
	}
	s.publish(ctx, domain.EventProfileDeleted, domain.ProfilePayload{ProviderID: providerID})
	s.logger.Info("profile deleted", "provider_id", providerID)
	return nil
}

// Get returns a stored profile.
func (s *ProfileService) Get(ctx context.Context, providerID string) (domain.ProviderProfile, error) {
	return s.store.GetProfile(ctx, providerID)
}

func (s *ProfileService) publish(ctx context.Context, typ domain.EventType, payload domain.ProfilePayload) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	})
}
