package store

import (
	"database/sql"
	"errors"
)

// MetaRubricHash is the metadata key holding the hash of the rubric in use.
const MetaRubricHash = "rubric_hash"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SwapRubricHash records hash as the current rubric and returns the one
// stored before, or "" on a fresh database.
func (s *Store) SwapRubricHash(hash string) (string, error) {
	prev, err := s.GetMetadata(MetaRubricHash)
	if err != nil {
		return "", err
	}
	if prev == hash {
		return prev, nil
	}
	return prev, s.SetMetadata(MetaRubricHash, hash)
}
