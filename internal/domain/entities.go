package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MetaSchemaVersion is the version of the persisted WorldMeta record.
// Increment this when making breaking changes to the metadata format.
const MetaSchemaVersion = 1

// MaxDistance is the largest Euclidean distance between two unit vectors.
const MaxDistance = 2.0

// NeighborTextLimit is the display length of neighbour span text.
const NeighborTextLimit = 200

// Index kinds recorded in WorldMeta.
const (
	IndexKindBrute = "brute"
	IndexKindHNSW  = "hnsw"
)

var worldIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateWorldID rejects ids that are unsafe as a directory or object key.
func ValidateWorldID(worldID string) error {
	if !worldIDPattern.MatchString(worldID) || strings.Contains(worldID, "..") {
		return fmt.Errorf("%w: invalid world_id %q", ErrInvalidRequest, worldID)
	}
	return nil
}

// Span is a contiguous chunk of canon text.
type Span struct {
	SpanID int    `json:"span_id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// SourceDocument is one raw corpus file of a world.
type SourceDocument struct {
	Name string
	Path string
	Text string
}

// WorldMeta is the authoritative metadata record of a world artifact.
type WorldMeta struct {
	SchemaVersion   int       `json:"schema_version"`
	WorldID         string    `json:"world_id"`
	ManifoldVersion int       `json:"manifold_version"`
	ModelID         string    `json:"model_id"`
	K               int       `json:"k"`
	TAccept         float64   `json:"T_accept"`
	TReview         float64   `json:"T_review"`
	TargetWords     int       `json:"target_words"`
	OverlapWords    int       `json:"overlap_words"`
	AcceptQ         float64   `json:"accept_q"`
	ReviewQ         float64   `json:"review_q"`
	NumChunks       int       `json:"num_chunks"`
	Dim             int       `json:"dim"`
	HasANNIndex     bool      `json:"has_ann_index"`
	IndexKind       string    `json:"index_kind"`
	CreatedAt       time.Time `json:"created_at"`
	SourceFiles     []string  `json:"source_files"`
}

// Validate checks that a metadata record read from storage is usable.
func (m WorldMeta) Validate() error {
	switch {
	case m.SchemaVersion != MetaSchemaVersion:
		return fmt.Errorf("%w: unsupported meta schema version %d (want %d)", ErrInvariant, m.SchemaVersion, MetaSchemaVersion)
	case m.WorldID == "":
		return fmt.Errorf("%w: meta missing world_id", ErrInvariant)
	case m.ManifoldVersion < 1:
		return fmt.Errorf("%w: meta has invalid manifold_version %d", ErrInvariant, m.ManifoldVersion)
	case m.ModelID == "":
		return fmt.Errorf("%w: meta missing model_id", ErrInvariant)
	case m.K < 1:
		return fmt.Errorf("%w: meta has invalid k %d", ErrInvariant, m.K)
	case m.NumChunks < 1:
		return fmt.Errorf("%w: meta has invalid num_chunks %d", ErrInvariant, m.NumChunks)
	case m.Dim < 1:
		return fmt.Errorf("%w: meta has invalid dim %d", ErrInvariant, m.Dim)
	case m.IndexKind != IndexKindBrute && m.IndexKind != IndexKindHNSW:
		return fmt.Errorf("%w: meta has unknown index_kind %q", ErrInvariant, m.IndexKind)
	case m.HasANNIndex != (m.IndexKind == IndexKindHNSW):
		return fmt.Errorf("%w: meta has_ann_index disagrees with index_kind %q", ErrInvariant, m.IndexKind)
	}
	return nil
}

// Artifact is a fully loaded world: metadata, spans, vectors and the
// serialized index blob (nil for brute-force worlds).
type Artifact struct {
	Meta    WorldMeta
	Spans   []Span
	Vectors [][]float32
	Index   []byte
}

// Validate checks the row/span/meta count invariants.
func (a *Artifact) Validate() error {
	if err := a.Meta.Validate(); err != nil {
		return err
	}
	if len(a.Spans) != a.Meta.NumChunks {
		return fmt.Errorf("%w: %d spans but num_chunks=%d", ErrInvariant, len(a.Spans), a.Meta.NumChunks)
	}
	if len(a.Vectors) != a.Meta.NumChunks {
		return fmt.Errorf("%w: %d vectors but num_chunks=%d", ErrInvariant, len(a.Vectors), a.Meta.NumChunks)
	}
	for i, v := range a.Vectors {
		if len(v) != a.Meta.Dim {
			return fmt.Errorf("%w: vector %d has dim %d, want %d", ErrInvariant, i, len(v), a.Meta.Dim)
		}
	}
	for i, s := range a.Spans {
		if s.SpanID != i {
			return fmt.Errorf("%w: span at row %d has span_id %d", ErrInvariant, i, s.SpanID)
		}
	}
	if a.Meta.HasANNIndex && len(a.Index) == 0 {
		return fmt.Errorf("%w: meta declares an ANN index but none was stored", ErrInvariant)
	}
	return nil
}

// Decision is the outcome of scoring text against a world.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReview Decision = "REVIEW"
	DecisionReject Decision = "REJECT"
)

// Thresholds are the calibrated decision boundaries of a world.
type Thresholds struct {
	TAccept float64 `json:"T_accept"`
	TReview float64 `json:"T_review"`
}

// Neighbor is a canon span close to the scored text.
type Neighbor struct {
	SpanID   int     `json:"span_id"`
	Source   string  `json:"source"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// ScoreResult is the ephemeral result of scoring one text.
type ScoreResult struct {
	WorldID         string     `json:"world_id"`
	Text            string     `json:"text"`
	Distance        float64    `json:"distance"`
	IWScore         float64    `json:"iw_score"`
	Decision        Decision   `json:"decision"`
	Neighbors       []Neighbor `json:"neighbors"`
	Thresholds      Thresholds `json:"thresholds"`
	ManifoldVersion int        `json:"manifold_version"`
	ModelID         string     `json:"model_id"`
}

// WorldStatus summarizes a world's current artifact.
type WorldStatus struct {
	WorldID         string     `json:"world_id"`
	Exists          bool       `json:"exists"`
	ManifoldVersion int        `json:"manifold_version,omitempty"`
	NumChunks       int        `json:"num_chunks,omitempty"`
	Dim             int        `json:"dim,omitempty"`
	ModelID         string     `json:"model_id,omitempty"`
	IndexKind       string     `json:"index_kind,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	TAccept         *float64   `json:"T_accept,omitempty"`
	TReview         *float64   `json:"T_review,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// StatusFromMeta converts metadata to a status record.
func StatusFromMeta(m WorldMeta) WorldStatus {
	created := m.CreatedAt
	tAccept, tReview := m.TAccept, m.TReview
	return WorldStatus{
		WorldID:         m.WorldID,
		Exists:          true,
		ManifoldVersion: m.ManifoldVersion,
		NumChunks:       m.NumChunks,
		Dim:             m.Dim,
		ModelID:         m.ModelID,
		IndexKind:       m.IndexKind,
		CreatedAt:       &created,
		TAccept:         &tAccept,
		TReview:         &tReview,
	}
}

// TruncateText shortens span text for display.
func TruncateText(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
