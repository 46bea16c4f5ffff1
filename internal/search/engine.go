// Package search ranks provider vectors against a query vector by cosine
// similarity. The corpus is small enough for an exhaustive scan, which keeps
// results exact and the engine free of index maintenance.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"lexmatch/internal/domain"
)

// VectorSource supplies the candidate vectors for a scan.
type VectorSource interface {
	Vectors(ctx context.Context) ([]domain.ProviderVector, error)
}

// Hit is a single ranked result: a provider and its similarity to the query.
type Hit struct {
	ProviderID string
	Score      float64
}

// Engine performs exhaustive cosine similarity search over a VectorSource.
type Engine struct {
	source VectorSource
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracer sets the tracer used for per-query spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an Engine over the given vector source.
func NewEngine(source VectorSource, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		tracer: noop.NewTracerProvider().Tracer("search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search scans all stored vectors and returns providers whose cosine
// similarity to query is at least threshold, sorted by score descending.
// Ties break on provider ID ascending so results are deterministic. At most
// limit hits are returned; limit <= 0 yields none. Stored vectors whose
// dimensionality differs from the query are counted and reported via
// ErrDimensionMismatch only if no comparable vectors exist at all;
// otherwise the mismatched rows are skipped.
func (e *Engine) Search(ctx context.Context, query []float32, threshold float64, limit int) ([]Hit, error) {
	ctx, span := e.tracer.Start(ctx, "search.scan")
	defer span.End()

	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, nil
	}

	vectors, err := e.source.Vectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load vectors: %v", domain.ErrVectorSearch, err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	var (
		hits       []Hit
		mismatched int
	)
	for _, v := range vectors {
		if len(v.Embedding) != len(query) {
			mismatched++
			continue
		}
		score := cosineSimilarity(query, v.Embedding)
		if score >= threshold {
			hits = append(hits, Hit{ProviderID: v.ProviderID, Score: score})
		}
	}

	if mismatched == len(vectors) {
		return nil, fmt.Errorf("%w: all %d stored vectors differ from query dims %d",
			domain.ErrDimensionMismatch, mismatched, len(query))
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ProviderID < hits[j].ProviderID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	span.SetAttributes(
		attribute.Int("search.corpus_size", len(vectors)),
		attribute.Int("search.hits", len(hits)),
		attribute.Int("search.dim_mismatches", mismatched),
	)
	return hits, nil
}

// cosineSimilarity returns the cosine of the angle between two equal-length
// vectors, in [-1, 1]. A zero vector on either side yields 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
