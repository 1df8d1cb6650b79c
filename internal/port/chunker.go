package port

// Chunker splits one document into span texts.
type Chunker interface {
	Chunk(text string) []string
}
