package port

// NearestNeighborIndex searches a fixed matrix of vectors.
type NearestNeighborIndex interface {
	// Search returns up to k Euclidean distances in ascending order
	// together with the row ids they belong to.
	Search(query []float32, k int) ([]float64, []int, error)

	// Len returns the number of indexed vectors.
	Len() int

	// Kind returns the index kind recorded in world metadata.
	Kind() string

	// MarshalBinary serializes the index structure (not the vectors).
	// Brute-force indexes return nil.
	MarshalBinary() ([]byte, error)
}
