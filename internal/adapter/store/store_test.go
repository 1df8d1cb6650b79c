package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"island/internal/domain"
	"island/internal/logging"
	"island/internal/port"
)

func testArtifact(world string, version int, withIndex bool) *domain.Artifact {
	kind := domain.IndexKindBrute
	var blob []byte
	if withIndex {
		kind = domain.IndexKindHNSW
		blob = []byte("graph-bytes-graph-bytes-graph-bytes")
	}
	spans := []domain.Span{
		{SpanID: 0, Source: "a.txt", Text: "Zeus rules Olympus"},
		{SpanID: 1, Source: "a.txt", Text: "Hera is queen of the gods"},
		{SpanID: 2, Source: "b.txt", Text: "Athena, born from Zeus's head"},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	return &domain.Artifact{
		Meta: domain.WorldMeta{
			SchemaVersion:   domain.MetaSchemaVersion,
			WorldID:         world,
			ManifoldVersion: version,
			ModelID:         "hash-3",
			K:               2,
			TAccept:         0.5,
			TReview:         0.7,
			TargetWords:     100,
			OverlapWords:    20,
			AcceptQ:         0.95,
			ReviewQ:         0.99,
			NumChunks:       len(spans),
			Dim:             3,
			HasANNIndex:     withIndex,
			IndexKind:       kind,
			CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			SourceFiles:     []string{"a.txt", "b.txt"},
		},
		Spans:   spans,
		Vectors: vectors,
		Index:   blob,
	}
}

type storeFactory func(t *testing.T) port.ArtifactStore

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"bolt": func(t *testing.T) port.ArtifactStore {
			s, err := NewBoltArtifactStore(filepath.Join(t.TempDir(), "artifacts.db"), CompressionZSTD)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"fs": func(t *testing.T) port.ArtifactStore {
			blobs, err := NewFSBlobs(t.TempDir())
			require.NoError(t, err)
			return NewBlobArtifactStore(blobs, CompressionLZ4, logging.Nop())
		},
	}
}

func TestArtifactStores(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("missing world", func(t *testing.T) {
				s := newStore(t)
				ok, err := s.Exists(ctx, "olympus")
				require.NoError(t, err)
				assert.False(t, ok)

				v, err := s.CurrentVersion(ctx, "olympus")
				require.NoError(t, err)
				assert.Equal(t, 0, v)

				_, err = s.Load(ctx, "olympus")
				assert.ErrorIs(t, err, domain.ErrWorldNotFound)
				_, err = s.ReadMeta(ctx, "olympus")
				assert.ErrorIs(t, err, domain.ErrWorldNotFound)
			})

			t.Run("save and load", func(t *testing.T) {
				s := newStore(t)
				want := testArtifact("olympus", 1, true)
				require.NoError(t, s.Save(ctx, want))

				got, err := s.Load(ctx, "olympus")
				require.NoError(t, err)
				assert.Equal(t, want.Meta, got.Meta)
				assert.Equal(t, want.Spans, got.Spans)
				assert.Equal(t, want.Vectors, got.Vectors)
				assert.Equal(t, want.Index, got.Index)

				v, err := s.CurrentVersion(ctx, "olympus")
				require.NoError(t, err)
				assert.Equal(t, 1, v)
			})

			t.Run("rebuild replaces", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.Save(ctx, testArtifact("olympus", 1, true)))

				next := testArtifact("olympus", 2, false)
				next.Spans = next.Spans[:1]
				next.Vectors = next.Vectors[:1]
				next.Meta.NumChunks = 1
				require.NoError(t, s.Save(ctx, next))

				got, err := s.Load(ctx, "olympus")
				require.NoError(t, err)
				assert.Equal(t, 2, got.Meta.ManifoldVersion)
				assert.Len(t, got.Spans, 1)
				assert.Nil(t, got.Index)
			})

			t.Run("stale version rejected", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.Save(ctx, testArtifact("olympus", 2, false)))
				err := s.Save(ctx, testArtifact("olympus", 2, false))
				assert.ErrorIs(t, err, domain.ErrInvariant)

				v, err := s.CurrentVersion(ctx, "olympus")
				require.NoError(t, err)
				assert.Equal(t, 2, v)
			})

			t.Run("invalid artifact never written", func(t *testing.T) {
				s := newStore(t)
				bad := testArtifact("olympus", 1, false)
				bad.Meta.NumChunks = 7
				assert.ErrorIs(t, s.Save(ctx, bad), domain.ErrInvariant)

				ok, err := s.Exists(ctx, "olympus")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("list", func(t *testing.T) {
				s := newStore(t)
				for _, w := range []string{"olympus", "asgard", "duat"} {
					require.NoError(t, s.Save(ctx, testArtifact(w, 1, false)))
				}
				worlds, err := s.List(ctx)
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"asgard", "duat", "olympus"}, worlds)
			})
		})
	}
}

func TestBlobStorePrunesOldVersions(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	s := NewBlobArtifactStore(blobs, CompressionZSTD, logging.Nop())

	for v := 1; v <= 3; v++ {
		require.NoError(t, s.Save(ctx, testArtifact("olympus", v, true)))
	}

	names, err := blobs.List(ctx, "olympus/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"olympus/meta.json",
		"olympus/v2/index.bin",
		"olympus/v2/spans.jsonl",
		"olympus/v2/vectors.bin",
		"olympus/v3/index.bin",
		"olympus/v3/spans.jsonl",
		"olympus/v3/vectors.bin",
	}, names)
}

func TestBlobStoreMissingDataIsInvariantFailure(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	s := NewBlobArtifactStore(blobs, CompressionNone, logging.Nop())

	require.NoError(t, s.Save(ctx, testArtifact("olympus", 1, false)))
	require.NoError(t, blobs.Delete(ctx, "olympus/v1/vectors.bin"))

	_, err = s.Load(ctx, "olympus")
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

// rebuildingBlobs publishes newer versions of a world right before the
// data object named trigger is read.
type rebuildingBlobs struct {
	Blobstore
	trigger string
	rebuild func()
}

func (b *rebuildingBlobs) Get(ctx context.Context, name string) ([]byte, error) {
	if name == b.trigger && b.rebuild != nil {
		rebuild := b.rebuild
		b.rebuild = nil
		rebuild()
	}
	return b.Blobstore.Get(ctx, name)
}

func TestBlobStoreLoadDuringRebuild(t *testing.T) {
	ctx := context.Background()
	fsBlobs, err := NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	blobs := &rebuildingBlobs{Blobstore: fsBlobs, trigger: "olympus/v1/spans.jsonl"}
	s := NewBlobArtifactStore(blobs, CompressionZSTD, logging.Nop())

	require.NoError(t, s.Save(ctx, testArtifact("olympus", 1, false)))

	blobs.rebuild = func() {
		require.NoError(t, s.Save(ctx, testArtifact("olympus", 2, true)))
	}
	got, err := s.Load(ctx, "olympus")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Meta.ManifoldVersion)
	assert.Len(t, got.Spans, 3)
}

func TestBlobStoreLoadFollowsMovedMeta(t *testing.T) {
	ctx := context.Background()
	fsBlobs, err := NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	blobs := &rebuildingBlobs{Blobstore: fsBlobs, trigger: "olympus/v1/spans.jsonl"}
	s := NewBlobArtifactStore(blobs, CompressionZSTD, logging.Nop())

	require.NoError(t, s.Save(ctx, testArtifact("olympus", 1, false)))

	// Two rebuilds land between the meta read and the data read, so v1 is
	// pruned and the reader has to move on to v3.
	blobs.rebuild = func() {
		require.NoError(t, s.Save(ctx, testArtifact("olympus", 2, false)))
		require.NoError(t, s.Save(ctx, testArtifact("olympus", 3, true)))
	}
	got, err := s.Load(ctx, "olympus")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Meta.ManifoldVersion)
	assert.True(t, got.Meta.HasANNIndex)
	assert.NotEmpty(t, got.Index)
}

func TestBlobStoreStagedDataWithoutMetaIsInvisible(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFSBlobs(t.TempDir())
	require.NoError(t, err)
	s := NewBlobArtifactStore(blobs, CompressionNone, logging.Nop())

	// A crashed build leaves data without meta.json.
	require.NoError(t, blobs.Put(ctx, "olympus/v1/spans.jsonl", []byte("{}\n")))

	ok, err := s.Exists(ctx, "olympus")
	require.NoError(t, err)
	assert.False(t, ok)

	worlds, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, worlds)
}

func TestBoltSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.db")
	s, err := NewBoltArtifactStore(path, CompressionNone)
	require.NoError(t, err)

	info, err := s.GetSchemaInfo()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, info.Version)

	result, err := s.CheckMigration()
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	require.NoError(t, s.Close())

	// Reopening an up-to-date file is a no-op.
	s, err = NewBoltArtifactStore(path, CompressionNone)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCodecRoundTrip(t *testing.T) {
	vectors := make([][]float32, 64)
	for i := range vectors {
		vectors[i] = make([]float32, 16)
		for j := range vectors[i] {
			vectors[i][j] = float32((i*j)%7) / 7
		}
	}

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			block, err := encodeVectors(vectors, c)
			require.NoError(t, err)
			got, err := decodeVectors(block)
			require.NoError(t, err)
			assert.Equal(t, vectors, got)
		})
	}
}

func TestDecodeRejectsCorruptBlocks(t *testing.T) {
	block, err := encodeVectors([][]float32{{1, 2}, {3, 4}}, CompressionNone)
	require.NoError(t, err)

	_, err = decodeVectors(block[:len(block)-3])
	assert.ErrorIs(t, err, domain.ErrInvariant)

	_, err = decodeVectors([]byte{1, 2})
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionZSTD, "ZSTD": CompressionZSTD, "lz4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("brotli")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSpansJSONLRoundTrip(t *testing.T) {
	spans := []domain.Span{
		{SpanID: 0, Source: "a.txt", Text: "line with \"quotes\" and <tags>"},
		{SpanID: 1, Source: "b.txt", Text: fmt.Sprintf("unicode %s", "Ζεύς")},
	}
	data, err := encodeSpans(spans)
	require.NoError(t, err)
	got, err := decodeSpans(data)
	require.NoError(t, err)
	assert.Equal(t, spans, got)
}
