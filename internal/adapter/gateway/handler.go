package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"lexmatch/internal/domain"
	"lexmatch/internal/usecase"
)

// SearchRunner runs one search request end to end.
type SearchRunner interface {
	Search(ctx context.Context, query string) (domain.SearchOutcome, error)
	Stats() usecase.SearchStats
}

// ProfileManager maintains provider profiles.
type ProfileManager interface {
	Save(ctx context.Context, p domain.ProviderProfile) error
	Delete(ctx context.Context, providerID string) error
	Get(ctx context.Context, providerID string) (domain.ProviderProfile, error)
}

// CorpusInfo exposes read-only corpus statistics for the status API.
type CorpusInfo interface {
	Count(ctx context.Context) (int, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Search   SearchRunner
	Profiles ProfileManager
	Corpus   CorpusInfo
	Embedder domain.EmbeddingProvider
	Logger   *slog.Logger
}

// searchParams is the payload of the search.perform RPC.
type searchParams struct {
	Query string `json:"query"`
}

// deleteParams is the payload of profile.delete and profile.get.
type deleteParams struct {
	ProviderID string `json:"provider_id"`
}

// RegisterCoreHandlers wires the RPC methods onto the server.
func RegisterCoreHandlers(s *Server, deps HandlerDeps) {
	s.RegisterHandler("search.perform", handleSearch(deps))
	s.RegisterHandler("profile.save", handleProfileSave(deps))
	s.RegisterHandler("profile.delete", handleProfileDelete(deps))
	s.RegisterHandler("profile.get", handleProfileGet(deps))
}

// handleSearch runs the matching pipeline. A failed search still produces a
// presentable outcome frame: clients get the degraded payload, not a bare
// error string.
func handleSearch(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var params searchParams
		if err := json.Unmarshal(payload, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}

		outcome, err := deps.Search.Search(ctx, params.Query)
		if err != nil {
			deps.Logger.Warn("gateway: search failed",
				"request_id", outcome.RequestID,
				"code", string(outcome.Code),
			)
		}
		return json.Marshal(outcome)
	}
}

func handleProfileSave(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var profile domain.ProviderProfile
		if err := json.Unmarshal(payload, &profile); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}
		if err := deps.Profiles.Save(ctx, profile); err != nil {
			return nil, err
		}
		deps.Logger.Info("gateway: profile saved", "provider_id", profile.ProviderID, "client", client.Name)
		return json.Marshal(map[string]string{"provider_id": profile.ProviderID, "status": "saved"})
	}
}

func handleProfileDelete(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var params deleteParams
		if err := json.Unmarshal(payload, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}
		if strings.TrimSpace(params.ProviderID) == "" {
			return nil, fmt.Errorf("%w: provider_id is required", domain.ErrRPCInvalidPayload)
		}
		if err := deps.Profiles.Delete(ctx, params.ProviderID); err != nil {
			return nil, err
		}
		deps.Logger.Info("gateway: profile deleted", "provider_id", params.ProviderID, "client", client.Name)
		return json.Marshal(map[string]string{"provider_id": params.ProviderID, "status": "deleted"})
	}
}

func handleProfileGet(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var params deleteParams
		if err := json.Unmarshal(payload, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
		}
		if strings.TrimSpace(params.ProviderID) == "" {
			return nil, fmt.Errorf("%w: provider_id is required", domain.ErrRPCInvalidPayload)
		}
		profile, err := deps.Profiles.Get(ctx, params.ProviderID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(profile)
	}
}
