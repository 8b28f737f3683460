package idempotency

import (
	"errors"
	"fmt"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// ErrStateTransition marks an attempted transition the state machine does not allow.
var ErrStateTransition = errors.New("illegal state transition")

// StateTransitionError reports an illegal transition. It is an invariant
// violation and is never applied.
type StateTransitionError struct {
	ID   string
	From types.UploadStatus // empty when the record could not be read
	To   types.UploadStatus
}

func (e *StateTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "unknown"
	}
	return fmt.Sprintf("upload request %s: cannot transition %s -> %s", e.ID, from, e.To)
}

func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}
