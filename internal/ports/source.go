package ports

import (
	"context"

	"github.com/bft-labs/lockstep/internal/domain"
)

// LogSource produces a finite, restartable sequence of recorded messages.
// The order of the returned messages is not assumed to be sorted.
type LogSource interface {
	Messages(ctx context.Context) ([]domain.Message, error)
}

// OutputSink persists captured outputs.
type OutputSink interface {
	Write(ctx context.Context, outputs []domain.Output) error
}
