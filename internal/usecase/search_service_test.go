package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmatch/internal/domain"
	"lexmatch/internal/search"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	vec   []float32
	errs  []error // consumed one per call, then nil
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedder) Name() string    { return "fake" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSearcher struct {
	hits []search.Hit
	err  error

	gotThreshold float64
	gotLimit     int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, threshold float64, limit int) ([]search.Hit, error) {
	f.gotThreshold = threshold
	f.gotLimit = limit
	return f.hits, f.err
}

type fakeProfileReader struct {
	profiles map[string]domain.ProviderProfile
	err      error
}

func (f *fakeProfileReader) GetProfiles(_ context.Context, ids []string) (map[string]domain.ProviderProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.ProviderProfile)
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// recordingBus captures published events synchronously for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func newTestSearchService(embedder domain.EmbeddingProvider, searcher Searcher, profiles ProfileReader, bus domain.EventBus) *SearchService {
	return NewSearchService(embedder, searcher, profiles, bus, slog.Default(), SearchConfig{
		Threshold:      0.3,
		Limit:          10,
		EmbedTimeout:   time.Second,
		RetryAttempts:  0,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestSearchHappyPath(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	searcher := &fakeSearcher{hits: []search.Hit{
		{ProviderID: "p1", Score: 0.92},
		{ProviderID: "p2", Score: 0.55},
	}}
	profiles := &fakeProfileReader{profiles: map[string]domain.ProviderProfile{
		"p1": {ProviderID: "p1", Username: "alice", Specialization: "family law"},
		"p2": {ProviderID: "p2", Username: "bob", Specialization: "tax law"},
	}}
	bus := &recordingBus{}

	svc := newTestSearchService(embedder, searcher, profiles, bus)
	outcome, err := svc.Search(context.Background(), "divorce lawyer near me")
	require.NoError(t, err)

	assert.Equal(t, domain.StageCompleted, outcome.Stage)
	assert.NotEmpty(t, outcome.RequestID)
	require.Len(t, outcome.Matches, 2)
	assert.Equal(t, "p1", outcome.Matches[0].ProviderID)
	assert.Equal(t, 0.92, outcome.Matches[0].Score)
	assert.Equal(t, "alice", outcome.Matches[0].Username)
	assert.Equal(t, "p2", outcome.Matches[1].ProviderID)

	assert.Equal(t, 0.3, searcher.gotThreshold)
	assert.Equal(t, 10, searcher.gotLimit)

	assert.Equal(t, []domain.EventType{
		domain.EventSearchStarted,
		domain.EventSearchValidating,
		domain.EventSearchEmbedding,
		domain.EventSearchSearching,
		domain.EventSearchCompleted,
	}, bus.types())

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1}}
	bus := &recordingBus{}
	svc := newTestSearchService(embedder, &fakeSearcher{}, &fakeProfileReader{}, bus)

	for _, query := range []string{"", "   ", "\n\t "} {
		outcome, err := svc.Search(context.Background(), query)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.True(t, outcome.Failed())
		assert.Empty(t, outcome.Matches)
		assert.Equal(t, domain.CodeInvalidInput, outcome.Code)
	}
	assert.Zero(t, embedder.callCount(), "blank queries must not reach the embedder")

	last := bus.types()[len(bus.types())-1]
	assert.Equal(t, domain.EventSearchFailed, last)
}

func TestSearchEmptyCorpusCompletes(t *testing.T) {
	svc := newTestSearchService(
		&fakeEmbedder{vec: []float32{1}},
		&fakeSearcher{}, // no hits
		&fakeProfileReader{},
		&recordingBus{},
	)

	outcome, err := svc.Search(context.Background(), "maritime law")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, outcome.Stage)
	assert.Empty(t, outcome.Matches)
	assert.Equal(t, "No providers found.", outcome.Message)

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Empty)
}

func TestSearchRetriesTransientEmbedFailure(t *testing.T) {
	embedder := &fakeEmbedder{
		vec:  []float32{1},
		errs: []error{fmt.Errorf("%w: 503", domain.ErrServiceUnavailable)},
	}
	svc := NewSearchService(embedder, &fakeSearcher{}, &fakeProfileReader{}, &recordingBus{},
		slog.Default(), SearchConfig{
			RetryAttempts:  2,
			RetryBaseDelay: time.Millisecond,
			EmbedTimeout:   time.Second,
		})

	outcome, err := svc.Search(context.Background(), "contract review")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCompleted, outcome.Stage)
	assert.Equal(t, 2, embedder.callCount(), "one failure then one success")
}

func TestSearchEmbedTimeoutIsServiceUnavailable(t *testing.T) {
	// Every attempt fails transiently, and the backoff outlasts the embed
	// window, so the timeout fires during the retry wait.
	unavailable := fmt.Errorf("%w: 503", domain.ErrServiceUnavailable)
	embedder := &fakeEmbedder{vec: []float32{1}, errs: []error{unavailable, unavailable, unavailable}}
	svc := NewSearchService(embedder, &fakeSearcher{}, &fakeProfileReader{}, &recordingBus{},
		slog.Default(), SearchConfig{
			RetryAttempts:  3,
			RetryBaseDelay: 500 * time.Millisecond,
			EmbedTimeout:   20 * time.Millisecond,
		})

	outcome, err := svc.Search(context.Background(), "immigration lawyer")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.True(t, outcome.Failed())
	assert.Equal(t, domain.CodeServiceUnavailable, outcome.Code)

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestSearchDoesNotRetryPermanentFailures(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		code domain.ErrorCode
	}{
		{"misconfigured", fmt.Errorf("%w: no api key", domain.ErrMisconfigured), domain.CodeMisconfigured},
		{"malformed", fmt.Errorf("%w: bad shape", domain.ErrMalformedResponse), domain.CodeMalformedResponse},
	} {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &fakeEmbedder{vec: []float32{1}, errs: []error{tt.err, tt.err, tt.err}}
			svc := NewSearchService(embedder, &fakeSearcher{}, &fakeProfileReader{}, &recordingBus{},
				slog.Default(), SearchConfig{RetryAttempts: 3, RetryBaseDelay: time.Millisecond, EmbedTimeout: time.Second})

			outcome, err := svc.Search(context.Background(), "notary services")
			require.Error(t, err)
			assert.True(t, outcome.Failed())
			assert.Equal(t, tt.code, outcome.Code)
			assert.Equal(t, 1, embedder.callCount(), "permanent failures must not be retried")
		})
	}
}

func TestSearchEngineFailure(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("%w: db locked", domain.ErrVectorSearch)}
	bus := &recordingBus{}
	svc := newTestSearchService(&fakeEmbedder{vec: []float32{1}}, searcher, &fakeProfileReader{}, bus)

	outcome, err := svc.Search(context.Background(), "ip litigation")
	require.ErrorIs(t, err, domain.ErrVectorSearch)
	assert.True(t, outcome.Failed())
	assert.Equal(t, "No providers found.", outcome.Message)
	assert.Equal(t, domain.CodeVectorSearch, outcome.Code)

	stats := svc.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestSearchDropsProvidersDeletedMidRequest(t *testing.T) {
	searcher := &fakeSearcher{hits: []search.Hit{
		{ProviderID: "kept", Score: 0.9},
		{ProviderID: "gone", Score: 0.8},
	}}
	profiles := &fakeProfileReader{profiles: map[string]domain.ProviderProfile{
		"kept": {ProviderID: "kept"},
	}}
	svc := newTestSearchService(&fakeEmbedder{vec: []float32{1}}, searcher, profiles, &recordingBus{})

	outcome, err := svc.Search(context.Background(), "estate planning")
	require.NoError(t, err)
	require.Len(t, outcome.Matches, 1)
	assert.Equal(t, "kept", outcome.Matches[0].ProviderID)
}

func TestSearchRequestIDsAreUnique(t *testing.T) {
	svc := newTestSearchService(&fakeEmbedder{vec: []float32{1}}, &fakeSearcher{}, &fakeProfileReader{}, &recordingBus{})

	a, err := svc.Search(context.Background(), "first")
	require.NoError(t, err)
	b, err := svc.Search(context.Background(), "second")
	require.NoError(t, err)
	assert.NotEqual(t, a.RequestID, b.RequestID)
}
