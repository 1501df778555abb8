// Package confirm defines the port for asking a human to approve a risky
// operation.
package confirm

import (
	"context"

	"github.com/GGUFloader/agentcore/internal/domain/safety"
)

// Confirmer asks for a yes/no decision on a violation. Implementations may
// block until the user answers or ctx is done.
type Confirmer interface {
	Confirm(ctx context.Context, v *safety.Violation) (bool, error)
}

// Func adapts a function to the Confirmer interface.
type Func func(ctx context.Context, v *safety.Violation) (bool, error)

// Confirm calls f.
func (f Func) Confirm(ctx context.Context, v *safety.Violation) (bool, error) {
	return f(ctx, v)
}
