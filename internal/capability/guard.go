package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// ErrDenied matches any DeniedError via errors.Is.
var ErrDenied = errors.New("permission denied")

// DeniedError carries the decision that blocked an operation.
type DeniedError struct {
	Decision models.PermissionDecision
}

func (e *DeniedError) Error() string {
	if len(e.Decision.Missing) > 0 {
		return fmt.Sprintf("permission denied: missing %s", strings.Join(e.Decision.Missing, ", "))
	}
	return fmt.Sprintf("permission denied: method %q", e.Decision.Method)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Guard wraps an operation closure with a capability check for the named
// API method. The operation runs only when the decision admits it;
// otherwise a DeniedError wrapping the decision is returned.
func (e *Engine) Guard(ctx context.Context, method string, kind models.TokenKind, op func(ctx context.Context) error) error {
	d := e.CheckForAPI(ctx, method, kind)
	if !d.Allowed {
		return &DeniedError{Decision: d}
	}
	return op(ctx)
}
