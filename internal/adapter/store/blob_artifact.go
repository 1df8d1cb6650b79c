package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"island/internal/domain"
)

// ErrBlobNotFound is returned by a Blobstore for a missing object.
var ErrBlobNotFound = errors.New("blob not found")

// Blobstore is a flat key/value object space with "/" separated names.
type Blobstore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns every name under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Object names inside a world.
const (
	metaObject    = "meta.json"
	spansObject   = "spans.jsonl"
	vectorsObject = "vectors.bin"
	indexObject   = "index.bin"
)

// BlobArtifactStore lays artifacts out as objects:
//
//	<world>/v<version>/spans.jsonl
//	<world>/v<version>/vectors.bin
//	<world>/v<version>/index.bin
//	<world>/meta.json
//
// Data objects are staged under the new version prefix first and meta.json
// is written last, so readers never see metadata pointing at missing data.
type BlobArtifactStore struct {
	blobs       Blobstore
	compression Compression
	logger      *slog.Logger
}

// NewBlobArtifactStore wraps a blob backend.
func NewBlobArtifactStore(blobs Blobstore, compression Compression, logger *slog.Logger) *BlobArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobArtifactStore{blobs: blobs, compression: compression, logger: logger}
}

func versionPrefix(worldID string, version int) string {
	return path.Join(worldID, "v"+strconv.Itoa(version))
}

func (s *BlobArtifactStore) Exists(ctx context.Context, worldID string) (bool, error) {
	v, err := s.CurrentVersion(ctx, worldID)
	return v > 0, err
}

func (s *BlobArtifactStore) CurrentVersion(ctx context.Context, worldID string) (int, error) {
	meta, err := s.ReadMeta(ctx, worldID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.ManifoldVersion, nil
}

func (s *BlobArtifactStore) ReadMeta(ctx context.Context, worldID string) (domain.WorldMeta, error) {
	data, err := s.get(ctx, worldID, path.Join(worldID, metaObject))
	if err != nil {
		return domain.WorldMeta{}, err
	}
	return decodeMeta(data)
}

// loadAttempts bounds how often Load follows meta.json while rebuilds keep
// publishing newer versions underneath it.
const loadAttempts = 3

func (s *BlobArtifactStore) Load(ctx context.Context, worldID string) (*domain.Artifact, error) {
	meta, err := s.ReadMeta(ctx, worldID)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		a, err := s.loadVersion(ctx, worldID, meta)
		if err == nil || !errors.Is(err, domain.ErrInvariant) || attempt == loadAttempts {
			return a, err
		}
		// A concurrent Save may have published and pruned past us.
		latest, merr := s.ReadMeta(ctx, worldID)
		if merr != nil || latest.ManifoldVersion == meta.ManifoldVersion {
			return nil, err
		}
		s.logger.Debug("artifact moved during load, retrying",
			"world", worldID, "from", meta.ManifoldVersion, "to", latest.ManifoldVersion)
		meta = latest
	}
}

func (s *BlobArtifactStore) loadVersion(ctx context.Context, worldID string, meta domain.WorldMeta) (*domain.Artifact, error) {
	prefix := versionPrefix(worldID, meta.ManifoldVersion)

	spansData, err := s.get(ctx, worldID, path.Join(prefix, spansObject))
	if err != nil {
		return nil, missingData(err, prefix, spansObject)
	}
	vectorsData, err := s.get(ctx, worldID, path.Join(prefix, vectorsObject))
	if err != nil {
		return nil, missingData(err, prefix, vectorsObject)
	}

	var indexData []byte
	if meta.HasANNIndex {
		indexData, err = s.get(ctx, worldID, path.Join(prefix, indexObject))
		if err != nil {
			return nil, missingData(err, prefix, indexObject)
		}
	}

	return loadArtifact(meta, spansData, vectorsData, indexData)
}

func (s *BlobArtifactStore) Save(ctx context.Context, a *domain.Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	worldID := a.Meta.WorldID

	current, err := s.CurrentVersion(ctx, worldID)
	if err != nil {
		return err
	}
	if current >= a.Meta.ManifoldVersion {
		return fmt.Errorf("%w: world %s already at version %d, refusing to save version %d",
			domain.ErrInvariant, worldID, current, a.Meta.ManifoldVersion)
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

	prefix := versionPrefix(worldID, a.Meta.ManifoldVersion)
	staged := []struct {
		name string
		data []byte
	}{
		{spansObject, spansData},
		{vectorsObject, vectorsData},
	}
	if len(indexData) > 0 {
		staged = append(staged, struct {
			name string
			data []byte
		}{indexObject, indexData})
	}
	for _, obj := range staged {
		if err := s.blobs.Put(ctx, path.Join(prefix, obj.name), obj.data); err != nil {
			return fmt.Errorf("failed to stage %s/%s: %w", prefix, obj.name, err)
		}
	}

	if err := s.blobs.Put(ctx, path.Join(worldID, metaObject), metaData); err != nil {
		return fmt.Errorf("failed to publish meta for %s: %w", worldID, err)
	}

	s.prune(ctx, worldID, a.Meta.ManifoldVersion)
	return nil
}

// prune deletes version prefixes older than keep-1. The previous version
// stays so a Load that read the old meta.json can still finish. Failures
// only leave unreachable objects behind, so they are logged and ignored.
func (s *BlobArtifactStore) prune(ctx context.Context, worldID string, keep int) {
	names, err := s.blobs.List(ctx, worldID+"/")
	if err != nil {
		s.logger.Warn("failed to list artifact objects for pruning", "world", worldID, "error", err)
		return
	}

	keepPrefixes := []string{
		versionPrefix(worldID, keep) + "/",
		versionPrefix(worldID, keep-1) + "/",
	}
	for _, name := range names {
		if strings.HasSuffix(name, "/"+metaObject) && strings.Count(name, "/") == 1 {
			continue
		}
		if strings.HasPrefix(name, keepPrefixes[0]) || strings.HasPrefix(name, keepPrefixes[1]) {
			continue
		}
		if err := s.blobs.Delete(ctx, name); err != nil {
			s.logger.Warn("failed to prune artifact object", "world", worldID, "object", name, "error", err)
		}
	}
}

// List returns the ids of worlds that have published metadata.
func (s *BlobArtifactStore) List(ctx context.Context) ([]string, error) {
	names, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var worlds []string
	for _, name := range names {
		world, rest, ok := strings.Cut(name, "/")
		if ok && rest == metaObject {
			worlds = append(worlds, world)
		}
	}
	sort.Strings(worlds)
	return worlds, nil
}

func (s *BlobArtifactStore) Close() error {
	return nil
}

func (s *BlobArtifactStore) get(ctx context.Context, worldID, name string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, name)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, notFound(worldID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// missingData turns a missing data object behind published metadata into
// an invariant failure rather than "world not found".
func missingData(err error, prefix, name string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: meta published but %s/%s is missing", domain.ErrInvariant, prefix, name)
	}
	return err
}
