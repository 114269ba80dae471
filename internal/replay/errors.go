package replay

import (
	"fmt"
	"strings"

	"github.com/bft-labs/lockstep/internal/domain"
)

// MissingOutputError reports a subprocess step where expected outputs did not
// arrive within the settle window.
type MissingOutputError struct {
	Index   int
	Input   domain.Message
	Missing []string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("input %d (%s at %d): no %s: %v",
		e.Index, e.Input.Topic, e.Input.MonoTime, strings.Join(e.Missing, ", "), domain.ErrMissingOutput)
}

// Unwrap returns domain.ErrMissingOutput.
func (e *MissingOutputError) Unwrap() error {
	return domain.ErrMissingOutput
}
