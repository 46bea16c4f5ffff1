package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"lexmatch/internal/usecase"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus       `json:"service"`
	Search   usecase.SearchStats `json:"search"`
	Corpus   CorpusStatus        `json:"corpus"`
	Embedder EmbedderStatus      `json:"embedder"`
}

// ServiceStatus holds service overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CorpusStatus holds provider corpus counts.
type CorpusStatus struct {
	Providers int `json:"providers"`
}

// EmbedderStatus describes the active embedding provider.
type EmbedderStatus struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

// RegisterRESTHandlers registers the health check and status endpoints.
// The status endpoint requires authentication; /healthz does not, so load
// balancers can probe it without a token.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	startTime := time.Now()

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = r.Header.Get("Authorization")
				if len(token) > 7 && token[:7] == "Bearer " {
					token = token[7:]
				}
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime)))
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		providers, err := deps.Corpus.Count(r.Context())
		if err != nil {
			deps.Logger.Warn("status: corpus count failed", "error", err)
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "lexmatch",
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Search: deps.Search.Stats(),
			Corpus: CorpusStatus{Providers: providers},
			Embedder: EmbedderStatus{
				Name:       deps.Embedder.Name(),
				Dimensions: deps.Embedder.Dimensions(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
