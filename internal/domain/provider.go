package domain

import "time"

// ProviderProfile is a legal-service provider's searchable profile.
// Description is the sole input to embedding generation; Embedding is derived
// from it and must be regenerated whenever Description changes. The display
// fields are owned by the profile CRUD system and read-only here.
type ProviderProfile struct {
	ProviderID      string    `json:"provider_id"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	ServiceType     string    `json:"service_type"`
	Specialization  string    `json:"specialization"`
	ExperienceYears float64   `json:"experience_years"`
	Certifications  string    `json:"certifications,omitempty"`
	LicenseNumber   string    `json:"license_number,omitempty"`
	Description     string    `json:"description"`
	ProfilePicture  string    `json:"profile_picture,omitempty"`
	Embedding       []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProviderVector pairs a provider ID with its stored description embedding.
// This is the read model the similarity search engine scans.
type ProviderVector struct {
	ProviderID string
	Embedding  []float32
}

// Match is one ranked search result: a provider profile with its similarity
// score against the query. The embedding itself is never exposed.
type Match struct {
	ProviderID      string  `json:"provider_id"`
	Score           float64 `json:"score"`
	Username        string  `json:"username"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	ServiceType     string  `json:"service_type"`
	Specialization  string  `json:"specialization"`
	ExperienceYears float64 `json:"experience_years"`
	Description     string  `json:"description"`
	ProfilePicture  string  `json:"profile_picture,omitempty"`
}

// SearchStage identifies where a search request is in its pipeline.
type SearchStage string

const (
	StageIdle                SearchStage = "idle"
	StageValidatingInput     SearchStage = "validating_input"
	StageGeneratingEmbedding SearchStage = "generating_embedding"
	StageSearching           SearchStage = "searching"
	StageCompleted           SearchStage = "completed"
	StageFailed              SearchStage = "failed"
)

// SearchOutcome is the terminal state of one search request. A Failed
// outcome carries an empty match list and the error code of the underlying
// failure; the user-visible message degrades to "no providers found" while
// the concrete error is preserved in logs.
type SearchOutcome struct {
	RequestID string      `json:"request_id"`
	Stage     SearchStage `json:"stage"`
	Matches   []Match     `json:"matches"`
	Message   string      `json:"message,omitempty"`
	Code      ErrorCode   `json:"code,omitempty"`
}

// Failed reports whether the search terminated without completing.
func (o *SearchOutcome) Failed() bool { return o.Stage == StageFailed }
