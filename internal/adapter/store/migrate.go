package store

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS providers (
	provider_id      TEXT PRIMARY KEY,
	username         TEXT NOT NULL DEFAULT '',
	first_name       TEXT NOT NULL DEFAULT '',
	last_name        TEXT NOT NULL DEFAULT '',
	service_type     TEXT NOT NULL DEFAULT '',
	specialization   TEXT NOT NULL DEFAULT '',
	experience_years REAL NOT NULL DEFAULT 0,
	certifications   TEXT NOT NULL DEFAULT '',
	license_number   TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	embedding        BLOB,
	profile_picture  TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_providers_service_type ON providers(service_type);
`

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
