// Package store persists provider profiles and their description embeddings
// in SQLite. A profile row always carries the embedding that was computed
// from its current description: the two are written in one atomic upsert,
// so searchers can never observe a half-updated pair.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"lexmatch/internal/domain"
)

// Store is the SQLite-backed provider profile store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Store.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrProfileStore, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrProfileStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrProfileStore, err)
	}

	return &Store{db: db, logger: logger, dbPath: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertProfile = `
	INSERT INTO providers (
		provider_id, username, first_name, last_name, service_type,
		specialization, experience_years, certifications, license_number,
		description, embedding, profile_picture, created_at, updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(provider_id) DO UPDATE SET
		username         = excluded.username,
		first_name       = excluded.first_name,
		last_name        = excluded.last_name,
		service_type     = excluded.service_type,
		specialization   = excluded.specialization,
		experience_years = excluded.experience_years,
		certifications   = excluded.certifications,
		license_number   = excluded.license_number,
		description      = excluded.description,
		embedding        = excluded.embedding,
		profile_picture  = excluded.profile_picture,
		updated_at       = excluded.updated_at
`

// UpsertProfile writes a profile and its embedding as one atomic row update
// keyed by provider ID. Callers are responsible for the pairing invariant:
// the embedding passed here must have been computed from p.Description.
func (s *Store) UpsertProfile(ctx context.Context, p domain.ProviderProfile) error {
	if p.ProviderID == "" {
		return fmt.Errorf("%w: missing provider_id", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var embeddingBlob []byte
	if len(p.Embedding) > 0 {
		embeddingBlob = float32ToBytes(p.Embedding)
	}

	_, err := s.db.ExecContext(ctx, upsertProfile,
		p.ProviderID,
		p.Username,
		p.FirstName,
		p.LastName,
		p.ServiceType,
		p.Specialization,
		p.ExperienceYears,
		p.Certifications,
		p.LicenseNumber,
		p.Description,
		embeddingBlob,
		p.ProfilePicture,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", domain.ErrProfileStore, err)
	}
	return nil
}

const selectProfile = `
	SELECT provider_id, username, first_name, last_name, service_type,
	       specialization, experience_years, certifications, license_number,
	       description, embedding, profile_picture, created_at, updated_at
	FROM providers
`

// GetProfile returns a single profile by provider ID.
func (s *Store) GetProfile(ctx context.Context, providerID string) (domain.ProviderProfile, error) {
	row := s.db.QueryRowContext(ctx, selectProfile+" WHERE provider_id = ?", providerID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProviderProfile{}, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, providerID)
	}
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("%w: get: %v", domain.ErrProfileStore, err)
	}
	return p, nil
}

// GetProfiles returns profiles for the given IDs, keyed by provider ID.
// Missing IDs are omitted, not an error: a provider deleted mid-search
// simply drops out of the assembled results.
func (s *Store) GetProfiles(ctx context.Context, providerIDs []string) (map[string]domain.ProviderProfile, error) {
	result := make(map[string]domain.ProviderProfile, len(providerIDs))
	for _, id := range providerIDs {
		p, err := s.GetProfile(ctx, id)
		if errors.Is(err, domain.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result[id] = p
	}
	return result, nil
}

// DeleteProfile removes a provider from the corpus.
func (s *Store) DeleteProfile(ctx context.Context, providerID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM providers WHERE provider_id = ?", providerID)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", domain.ErrProfileStore, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProfileNotFound, providerID)
	}
	return nil
}

// Vectors returns every stored (provider_id, embedding) pair. This is the
// read-only scan the similarity search engine runs per query; rows without
// an embedding are excluded.
func (s *Store) Vectors(ctx context.Context) ([]domain.ProviderVector, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT provider_id, embedding FROM providers WHERE embedding IS NOT NULL",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: vectors: %v", domain.ErrProfileStore, err)
	}
	defer rows.Close()

	var vectors []domain.ProviderVector
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			s.logger.Warn("profile store: vector row scan failed", "error", err)
			continue
		}
		vec := bytesToFloat32(blob)
		if vec == nil {
			s.logger.Warn("profile store: corrupt embedding blob", "provider_id", id)
			continue
		}
		vectors = append(vectors, domain.ProviderVector{ProviderID: id, Embedding: vec})
	}
	return vectors, rows.Err()
}

// StaleProfiles returns profiles whose embedding is missing or whose
// dimensionality differs from dims. These indicate failed past saves or
// model-version skew and are the reindex job's work queue.
func (s *Store) StaleProfiles(ctx context.Context, dims int) ([]domain.ProviderProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		selectProfile+" WHERE embedding IS NULL OR length(embedding) != ?",
		dims*4, // 4 bytes per float32
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stale profiles: %v", domain.ErrProfileStore, err)
	}
	defer rows.Close()

	var profiles []domain.ProviderProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Count returns the number of stored profiles.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM providers").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrProfileStore, err)
	}
	return n, nil
}

// scanProfile reads a single profile row.
func scanProfile(row interface{ Scan(dest ...any) error }) (domain.ProviderProfile, error) {
	var (
		p         domain.ProviderProfile
		embBlob   []byte
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&p.ProviderID, &p.Username, &p.FirstName, &p.LastName, &p.ServiceType,
		&p.Specialization, &p.ExperienceYears, &p.Certifications, &p.LicenseNumber,
		&p.Description, &embBlob, &p.ProfilePicture, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Embedding = bytesToFloat32(embBlob)
	// Timestamp parse errors indicate data corruption, not a retrieval
	// failure; the zero time is returned in that case.
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}
