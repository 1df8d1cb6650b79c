package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"island/internal/domain"
)

// CurrentSchemaVersion is the layout version of the bolt artifact file.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// SchemaInfo stores the schema version of the database.
type SchemaInfo struct {
	Version int `json:"version"`
}

// GetSchemaInfo retrieves the current schema info from the database.
// A fresh file reports version 0.
func (s *BoltArtifactStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSchema)
		if b == nil {
			return nil
		}
		if data := b.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				return fmt.Errorf("%w: unreadable schema version: %v", domain.ErrInvariant, err)
			}
		}
		return nil
	})
	return &info, err
}

func (s *BoltArtifactStore) setSchemaInfo(tx *bbolt.Tx, info *SchemaInfo) error {
	b, err := tx.CreateBucketIfNotExists(bucketSchema)
	if err != nil {
		return err
	}
	data, err := json.Marshal(info.Version)
	if err != nil {
		return err
	}
	return b.Put(keySchemaVersion, data)
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration reports whether the file needs upgrading. Files written by
// a newer release are rejected.
func (s *BoltArtifactStore) CheckMigration() (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		return nil, fmt.Errorf("%w: artifact database created by newer version (v%d > v%d)",
			domain.ErrInvariant, info.Version, CurrentSchemaVersion)
	}

	return result, nil
}

// Migrate runs every pending migration step in one transaction.
func (s *BoltArtifactStore) Migrate() error {
	result, err := s.CheckMigration()
	if err != nil {
		return err
	}
	if !result.NeedsMigration {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for v := result.OldVersion; v < CurrentSchemaVersion; v++ {
			if err := runMigration(tx, v, v+1); err != nil {
				return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
			}
		}
		return s.setSchemaInfo(tx, &SchemaInfo{Version: CurrentSchemaVersion})
	})
}

func runMigration(tx *bbolt.Tx, from, to int) error {
	switch {
	case from == 0 && to == 1:
		for _, name := range [][]byte{bucketWorlds, bucketSchema} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	default:
		return nil
	}
}
