package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"lexmatch/internal/domain"
)

// Reindexer backfills embeddings for profiles whose stored vector is missing
// or was produced by a model with different dimensionality. It runs on a
// cron schedule and can also be invoked once from the CLI.
type Reindexer struct {
	store    ProfileStore
	embedder domain.EmbeddingProvider
	bus      domain.EventBus
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewReindexer creates a reindexer over the given store and embedder.
func NewReindexer(store ProfileStore, embedder domain.EmbeddingProvider, bus domain.EventBus, logger *slog.Logger) *Reindexer {
	return &Reindexer{
		store:    store,
		embedder: embedder,
		bus:      bus,
		logger:   logger,
	}
}

// Start schedules RunOnce on the given cron spec (standard 5-field syntax).
func (r *Reindexer) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("scheduled reindex failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: cron schedule %q: %v", domain.ErrMisconfigured, schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reindexer scheduled", "schedule", schedule)
	return nil
}

// Stop cancels the schedule and waits for a running pass to finish.
func (r *Reindexer) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce scans for stale profiles and re-embeds their descriptions one at a
// time. A profile that fails to embed is skipped and retried on the next
// pass; one bad description never blocks the rest of the queue.
func (r *Reindexer) RunOnce(ctx context.Context) (domain.ReindexPayload, error) {
	r.publish(ctx, domain.EventReindexStarted, domain.ReindexPayload{})

	stale, err := r.store.StaleProfiles(ctx, r.embedder.Dimensions())
	if err != nil {
		return domain.ReindexPayload{}, err
	}

	result := domain.ReindexPayload{Scanned: len(stale)}
	for _, p := range stale {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if p.Description == "" {
			// Nothing to embed. Left for the profile owner to fix.
			result.Failed++
			continue
		}
		vecs, err := r.embedder.Embed(ctx, []string{p.Description})
		if err != nil || len(vecs) != 1 {
			r.logger.Warn("reindex: embed failed", "provider_id", p.ProviderID, "error", err)
			result.Failed++
			continue
		}
		p.Embedding = vecs[0]
		if err := r.store.UpsertProfile(ctx, p); err != nil {
			r.logger.Warn("reindex: upsert failed", "provider_id", p.ProviderID, "error", err)
			result.Failed++
			continue
		}
		result.Reindexed++
	}

	r.publish(ctx, domain.EventReindexCompleted, result)
	r.logger.Info("reindex pass finished",
		"scanned", result.Scanned,
		"reindexed", result.Reindexed,
		"failed", result.Failed,
	)
	return result, nil
}

func (r *Reindexer) publish(ctx context.Context, typ domain.EventType, payload domain.ReindexPayload) {
	if r.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.bus.Publish(ctx, domain.Event{Type: typ, Timestamp: time.Now().UTC(), Payload: raw})
}
