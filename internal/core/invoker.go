package core

import (
	"context"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// Invoker runs one turn on a worker's provider. It is implemented by the
// integration package; defining it here keeps core free of exec details.
type Invoker interface {
	Invoke(ctx context.Context, req models.InvocationRequest) (models.Response, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req models.InvocationRequest) (models.Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req models.InvocationRequest) (models.Response, error) {
	return f(ctx, req)
}
