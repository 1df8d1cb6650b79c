package domain

import "errors"

var (
	// ErrCorpusNotFound means no source files matched for a world.
	ErrCorpusNotFound = errors.New("corpus not found")

	// ErrEmptyCorpus means the source files produced zero spans.
	ErrEmptyCorpus = errors.New("empty corpus")

	// ErrWorldNotFound means no artifact has been built for a world.
	ErrWorldNotFound = errors.New("world not found")

	// ErrEmbedding wraps failures of the embedding collaborator.
	ErrEmbedding = errors.New("embedding collaborator failure")

	// ErrInvariant marks corrupted artifacts and dimension mismatches.
	ErrInvariant = errors.New("internal invariant failure")

	// ErrInvalidRequest marks malformed build or score parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorKind is a stable, transport-neutral error classification.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request"
	KindCorpusNotFound ErrorKind = "corpus_not_found"
	KindEmptyCorpus    ErrorKind = "empty_corpus"
	KindWorldNotFound  ErrorKind = "world_not_found"
	KindUnavailable    ErrorKind = "embedding_unavailable"
	KindInternal       ErrorKind = "internal"
)

// KindOf classifies an error returned by the build or score paths.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrCorpusNotFound):
		return KindCorpusNotFound
	case errors.Is(err, ErrEmptyCorpus):
		return KindEmptyCorpus
	case errors.Is(err, ErrWorldNotFound):
		return KindWorldNotFound
	case errors.Is(err, ErrEmbedding):
		return KindUnavailable
	default:
		return KindInternal
	}
}
