package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lexmatch/internal/domain"
)

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// HuggingFaceOption configures the Hugging Face embedding provider.
type HuggingFaceOption func(*HuggingFaceProvider)

// WithHuggingFaceModel sets the feature-extraction model.
func WithHuggingFaceModel(model string) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.model = model }
}

// WithHuggingFaceDimensions sets the expected embedding dimensions.
func WithHuggingFaceDimensions(dims int) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.dims = dims }
}

// WithHuggingFaceBaseURL sets a custom base URL.
func WithHuggingFaceBaseURL(url string) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.baseURL = url }
}

// WithHuggingFaceClient sets a custom HTTP client.
func WithHuggingFaceClient(client *http.Client) HuggingFaceOption {
	return func(p *HuggingFaceProvider) { p.client = client }
}

// HuggingFaceProvider implements domain.EmbeddingProvider using the Hugging
// Face Inference API's feature-extraction pipeline. The model and its output
// dimensionality are fixed configuration; the defaults match the MiniLM
// sentence-transformer used for provider profiles.
type HuggingFaceProvider struct {
	apiKey  string
	model   string
	dims    int
	baseURL string
	client  *http.Client
}

// NewHuggingFaceProvider creates a Hugging Face embedding provider.
func NewHuggingFaceProvider(apiKey string, opts ...HuggingFaceOption) *HuggingFaceProvider {
	p := &HuggingFaceProvider{
		apiKey:  apiKey,
		model:   "sentence-transformers/all-MiniLM-L6-v2",
		dims:    384,
		baseURL: "https://api-inference.huggingface.co",
		client:  defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// --- Hugging Face feature-extraction wire types ---

type hfExtractRequest struct {
	Inputs  []string        `json:"inputs"`
	Options map[string]bool `json:"options,omitempty"`
}

// Embed implements domain.EmbeddingProvider. One request embeds all texts;
// the response is a matrix with one row per input, in input order.
func (p *HuggingFaceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: blank text", domain.ErrInvalidInput)
		}
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrMisconfigured)
	}
	if p.model == "" {
		return nil, fmt.Errorf("%w: missing model", domain.ErrMisconfigured)
	}

	reqBody := hfExtractRequest{
		Inputs:  texts,
		Options: map[string]bool{"wait_for_model": true},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrServiceUnavailable, err)
	}

	url := p.baseURL + "/pipeline/feature-extraction/" + p.model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrServiceUnavailable, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrServiceUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrServiceUnavailable, err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: API rejected credentials (%d)", domain.ErrMisconfigured, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error %d: %s", domain.ErrServiceUnavailable, httpResp.StatusCode, string(respBody))
	}

	vecs, err := decodeFeatureMatrix(respBody, len(texts))
	if err != nil {
		return nil, err
	}
	for _, vec := range vecs {
		if len(vec) != p.dims {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d", domain.ErrMalformedResponse, len(vec), p.dims)
		}
	}
	return vecs, nil
}

// decodeFeatureMatrix parses the feature-extraction response. The API returns
// [][]float32 for a batch, and bare []float32 when a single string was sent.
// Both shapes are accepted; anything else is a contract violation.
func decodeFeatureMatrix(data []byte, want int) ([][]float32, error) {
	var matrix [][]float32
	if err := json.Unmarshal(data, &matrix); err == nil {
		if len(matrix) != want {
			return nil, fmt.Errorf("%w: got %d vectors, want %d", domain.ErrMalformedResponse, len(matrix), want)
		}
		return matrix, nil
	}

	var single []float32
	if err := json.Unmarshal(data, &single); err != nil || len(single) == 0 {
		return nil, fmt.Errorf("%w: response is not a numeric vector", domain.ErrMalformedResponse)
	}
	if want != 1 {
		return nil, fmt.Errorf("%w: got 1 vector, want %d", domain.ErrMalformedResponse, want)
	}
	return [][]float32{single}, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *HuggingFaceProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *HuggingFaceProvider) Name() string { return "huggingface" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*HuggingFaceProvider)(nil)
