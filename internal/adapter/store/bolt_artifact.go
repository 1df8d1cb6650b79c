package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"island/internal/domain"
)

var (
	bucketWorlds = []byte("worlds")
	bucketSchema = []byte("schema")

	keyMeta    = []byte("meta")
	keySpans   = []byte("spans")
	keyVectors = []byte("vectors")
	keyIndex   = []byte("index")
)

// BoltArtifactStore keeps every world in one bbolt file. Each world is a
// nested bucket under "worlds"; a save replaces it in a single transaction.
type BoltArtifactStore struct {
	db          *bbolt.DB
	compression Compression
}

// NewBoltArtifactStore opens (or creates) the database at path and brings
// its schema up to date.
func NewBoltArtifactStore(path string, compression Compression) (*BoltArtifactStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	s := &BoltArtifactStore{db: db, compression: compression}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltArtifactStore) Exists(ctx context.Context, worldID string) (bool, error) {
	v, err := s.CurrentVersion(ctx, worldID)
	return v > 0, err
}

func (s *BoltArtifactStore) CurrentVersion(ctx context.Context, worldID string) (int, error) {
	meta, err := s.ReadMeta(ctx, worldID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.ManifoldVersion, nil
}

func (s *BoltArtifactStore) ReadMeta(_ context.Context, worldID string) (domain.WorldMeta, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		wb := worldBucket(tx, worldID)
		if wb == nil {
			return notFound(worldID)
		}
		raw := wb.Get(keyMeta)
		if raw == nil {
			return notFound(worldID)
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return domain.WorldMeta{}, err
	}
	return decodeMeta(data)
}

func (s *BoltArtifactStore) Load(_ context.Context, worldID string) (*domain.Artifact, error) {
	var metaData, spansData, vectorsData, indexData []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		wb := worldBucket(tx, worldID)
		if wb == nil || wb.Get(keyMeta) == nil {
			return notFound(worldID)
		}
		// bbolt values are only valid inside the transaction.
		metaData = append([]byte(nil), wb.Get(keyMeta)...)
		spansData = append([]byte(nil), wb.Get(keySpans)...)
		vectorsData = append([]byte(nil), wb.Get(keyVectors)...)
		indexData = append([]byte(nil), wb.Get(keyIndex)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	meta, err := decodeMeta(metaData)
	if err != nil {
		return nil, err
	}
	return loadArtifact(meta, spansData, vectorsData, indexData)
}

// Save replaces the world's artifact. Encoding happens before the write
// transaction so the transaction only swaps bytes.
func (s *BoltArtifactStore) Save(_ context.Context, a *domain.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}

	spansData, err := encodeSpans(a.Spans)
	if err != nil {
		return err
	}
	vectorsData, err := encodeVectors(a.Vectors, s.compression)
	if err != nil {
		return err
	}
	indexData, err := encodeIndex(a.Index, s.compression)
	if err != nil {
		return err
	}
	metaData, err := encodeMeta(a.Meta)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		worlds := tx.Bucket(bucketWorlds)
		name := []byte(a.Meta.WorldID)

		if prev := worlds.Bucket(name); prev != nil {
			if raw := prev.Get(keyMeta); raw != nil {
				var old domain.WorldMeta
				if err := json.Unmarshal(raw, &old); err == nil && old.ManifoldVersion >= a.Meta.ManifoldVersion {
					return fmt.Errorf("%w: world %s already at version %d, refusing to save version %d",
						domain.ErrInvariant, a.Meta.WorldID, old.ManifoldVersion, a.Meta.ManifoldVersion)
				}
			}
			if err := worlds.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop previous artifact: %w", err)
			}
		}

		wb, err := worlds.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to create world bucket: %w", err)
		}
		if err := wb.Put(keySpans, spansData); err != nil {
			return err
		}
		if err := wb.Put(keyVectors, vectorsData); err != nil {
			return err
		}
		if len(indexData) > 0 {
			if err := wb.Put(keyIndex, indexData); err != nil {
				return err
			}
		}
		return wb.Put(keyMeta, metaData)
	})
}

func (s *BoltArtifactStore) List(_ context.Context) ([]string, error) {
	var worlds []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorlds).ForEach(func(k, v []byte) error {
			if v == nil {
				worlds = append(worlds, string(k))
			}
			return nil
		})
	})
	return worlds, err
}

// Delete removes a world entirely.
func (s *BoltArtifactStore) Delete(_ context.Context, worldID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketWorlds).DeleteBucket([]byte(worldID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return notFound(worldID)
		}
		return err
	})
}

func (s *BoltArtifactStore) Close() error {
	return s.db.Close()
}

func worldBucket(tx *bbolt.Tx, worldID string) *bbolt.Bucket {
	worlds := tx.Bucket(bucketWorlds)
	if worlds == nil {
		return nil
	}
	return worlds.Bucket([]byte(worldID))
}
