// Package usecase contains the application services that tie the embedding
// provider, the profile store, and the similarity search engine together.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"lexmatch/internal/domain"
	"lexmatch/internal/search"
)

// Searcher ranks a query vector against the stored corpus.
type Searcher interface {
	Search(ctx context.Context, query []float32, threshold float64, limit int) ([]search.Hit, error)
}

// ProfileReader resolves provider IDs to their display profiles.
type ProfileReader interface {
	GetProfiles(ctx context.Context, providerIDs []string) (map[string]domain.ProviderProfile, error)
}

// SearchConfig carries the tunables of the search pipeline.
type SearchConfig struct {
	// Threshold is the minimum cosine similarity for a provider to count as
	// a match, in [-1, 1].
	Threshold float64
	// Limit caps the number of returned matches.
	Limit int
	// EmbedTimeout bounds one embedding call including its retries.
	EmbedTimeout time.Duration
	// RetryAttempts is the number of additional embedding attempts after a
	// transient failure.
	RetryAttempts int
	// RetryBaseDelay is the first backoff interval; subsequent delays grow
	// exponentially.
	RetryBaseDelay time.Duration
}

// SearchStats are the lifetime counters exposed on the status API.
type SearchStats struct {
	Total     uint64 `json:"searches_total"`
	Completed uint64 `json:"searches_completed"`
	Failed    uint64 `json:"searches_failed"`
	Empty     uint64 `json:"searches_empty"`
}

// SearchService orchestrates a search request: validate the query text,
// embed it, scan the corpus, and assemble ranked matches. Each stage
// transition is published on the event bus; event delivery is best effort
// and never aborts the pipeline.
type SearchService struct {
	embedder domain.EmbeddingProvider
	searcher Searcher
	profiles ProfileReader
	bus      domain.EventBus
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      SearchConfig

	total     atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	empty     atomic.Uint64
}

// SearchOption configures a SearchService.
type SearchOption func(*SearchService)

// WithSearchTracer sets the tracer for per-request spans.
func WithSearchTracer(t trace.Tracer) SearchOption {
	return func(s *SearchService) { s.tracer = t }
}

// NewSearchService wires a search pipeline. Zero config fields fall back to
// production defaults.
func NewSearchService(
	embedder domain.EmbeddingProvider,
	searcher Searcher,
	profiles ProfileReader,
	bus domain.EventBus,
	logger *slog.Logger,
	cfg SearchConfig,
	opts ...SearchOption,
) *SearchService {
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.3
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	s := &SearchService{
		embedder: embedder,
		searcher: searcher,
		profiles: profiles,
		bus:      bus,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("usecase"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the full pipeline for one query. The returned outcome is
// always presentable: on failure it carries StageFailed, an empty match
// list, a generic user-facing message, and the error code. The concrete
// error is returned alongside for logging and transport mapping.
func (s *SearchService) Search(ctx context.Context, query string) (domain.SearchOutcome, error) {
	requestID := ulid.Make().String()
	ctx, span := s.tracer.Start(ctx, "search.request")
	defer span.End()
	span.SetAttributes(attribute.String("search.request_id", requestID))

	s.total.Add(1)
	start := time.Now()
	s.publishStage(ctx, requestID, domain.EventSearchStarted, domain.SearchStagePayload{
		Stage: domain.StageIdle, Message: "Search received.",
	})

	// Stage 1: validation. Whitespace-only queries are rejected before any
	// remote call is made.
	s.publishStage(ctx, requestID, domain.EventSearchValidating, domain.SearchStagePayload{
		Stage: domain.StageValidatingInput, Message: "Validating your request...",
	})
	query = strings.TrimSpace(query)
	if query == "" {
		err := fmt.Errorf("%w: query must not be empty", domain.ErrInvalidInput)
		return s.fail(ctx, requestID, err), err
	}

	// Stage 2: embedding, with bounded retries on transient upstream
	// failures only.
	s.publishStage(ctx, requestID, domain.EventSearchEmbedding, domain.SearchStagePayload{
		Stage: domain.StageGeneratingEmbedding, Message: "Understanding what you need...",
	})
	queryVec, err := s.embedQuery(ctx, query)
	if err != nil {
		return s.fail(ctx, requestID, err), err
	}

	// Stage 3: similarity scan.
	s.publishStage(ctx, requestID, domain.EventSearchSearching, domain.SearchStagePayload{
		Stage: domain.StageSearching, Message: "Finding providers for you...",
	})
	hits, err := s.searcher.Search(ctx, queryVec, s.cfg.Threshold, s.cfg.Limit)
	if err != nil {
		return s.fail(ctx, requestID, err), err
	}

	// Stage 4: join display fields onto the ranked IDs.
	matches, err := s.assembleMatches(ctx, hits)
	if err != nil {
		return s.fail(ctx, requestID, err), err
	}

	outcome := domain.SearchOutcome{
		RequestID: requestID,
		Stage:     domain.StageCompleted,
		Matches:   matches,
	}
	if len(matches) == 0 {
		outcome.Message = "No providers found."
		s.empty.Add(1)
	}
	s.completed.Add(1)

	s.publishStage(ctx, requestID, domain.EventSearchCompleted, domain.SearchStagePayload{
		Stage: domain.StageCompleted, Matches: len(matches),
	})
	s.logger.Info("search completed",
		"request_id", requestID,
		"matches", len(matches),
		"duration", time.Since(start),
	)
	span.SetAttributes(attribute.Int("search.matches", len(matches)))
	return outcome, nil
}

// Stats returns a snapshot of the lifetime counters.
func (s *SearchService) Stats() SearchStats {
	return SearchStats{
		Total:     s.total.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Empty:     s.empty.Load(),
	}
}

// embedQuery embeds the query text under the configured timeout. Only
// transient upstream failures are retried: validation, configuration, and
// malformed-response errors fail immediately.
func (s *SearchService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(uint64(s.cfg.RetryAttempts), retry.NewExponential(s.cfg.RetryBaseDelay))

	var vec []float32
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			if domain.IsRetryableError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if len(vecs) != 1 {
			return fmt.Errorf("%w: expected 1 vector, got %d", domain.ErrMalformedResponse, len(vecs))
		}
		vec = vecs[0]
		return nil
	})
	if err != nil {
		// retry.Do returns a bare context error when the timeout fires,
		// both mid-backoff and before an attempt.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding timed out after %s", domain.ErrServiceUnavailable, s.cfg.EmbedTimeout)
		}
		return nil, err
	}
	return vec, nil
}

// assembleMatches joins display profiles onto ranked hits, preserving the
// ranking order. Providers deleted between the scan and the join drop out.
func (s *SearchService) assembleMatches(ctx context.Context, hits []search.Hit) ([]domain.Match, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ProviderID
	}
	profiles, err := s.profiles.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, 0, len(hits))
	for _, h := range hits {
		p, ok := profiles[h.ProviderID]
		if !ok {
			continue
		}
		matches = append(matches, domain.Match{
			ProviderID:      p.ProviderID,
			Score:           h.Score,
			Username:        p.Username,
			FirstName:       p.FirstName,
			LastName:        p.LastName,
			ServiceType:     p.ServiceType,
			Specialization:  p.Specialization,
			ExperienceYears: p.ExperienceYears,
			Description:     p.Description,
			ProfilePicture:  p.ProfilePicture,
		})
	}
	return matches, nil
}

// fail records a terminal failure, publishes the failed stage event, and
// builds the degraded outcome. The user-visible message never leaks the
// underlying error; the code identifies the failure class for clients that
// want to distinguish "try again" from "fix your input".
func (s *SearchService) fail(ctx context.Context, requestID string, err error) domain.SearchOutcome {
	s.failed.Add(1)
	code := domain.ErrorCodeOf(err)
	s.logger.Error("search failed",
		"request_id", requestID,
		"code", string(code),
		"error", err,
	)
	s.publishStage(ctx, requestID, domain.EventSearchFailed, domain.SearchStagePayload{
		Stage: domain.StageFailed, Message: "No providers found.", Code: code,
	})
	return domain.SearchOutcome{
		RequestID: requestID,
		Stage:     domain.StageFailed,
		Matches:   []domain.Match{},
		Message:   "No providers found.",
		Code:      code,
	}
}

func (s *SearchService) publishStage(ctx context.Context, requestID string, typ domain.EventType, payload domain.SearchStagePayload) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("stage payload marshal failed", "request_id", requestID, "error", err)
		return
	}
	s.bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Payload:   raw,
	})
}
