package retrieve

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"manifold/internal/persistence/databases"
)

// VectorBreaker wraps a VectorStore's similarity search with a circuit
// breaker so a failing vector backend degrades retrieval to the keyword
// leg instead of blocking every query behind repeated timeouts.
type VectorBreaker struct {
	vec databases.VectorStore
	cb  *gobreaker.CircuitBreaker
}

func NewVectorBreaker(vec databases.VectorStore) *VectorBreaker {
	st := gobreaker.Settings{
		Name:        "vector_search",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &VectorBreaker{vec: vec, cb: gobreaker.NewCircuitBreaker(st)}
}

// SimilaritySearch runs the underlying search through the breaker. When the
// breaker is open it returns gobreaker.ErrOpenState immediately so callers
// can fall back to keyword-only results.
func (b *VectorBreaker) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]databases.VectorResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.vec.SimilaritySearch(ctx, vector, k, filter)
	})
	if err != nil {
		return nil, err
	}
	return out.([]databases.VectorResult), nil
}

func (b *VectorBreaker) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	return b.vec.Upsert(ctx, id, vector, metadata)
}

func (b *VectorBreaker) Delete(ctx context.Context, id string) error {
	return b.vec.Delete(ctx, id)
}

// Open reports whether the breaker is currently tripped.
func (b *VectorBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

var _ databases.VectorStore = (*VectorBreaker)(nil)
