package client

import (
	"context"

	"github.com/menta2k/pulmoscan/pkg/types"
)

// PredictionClient is the narrow contract with the remote prediction service.
// A failed call returns a *types.RequestError.
type PredictionClient interface {
	Predict(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error)
}

// Func adapts a plain function to PredictionClient
type Func func(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error)

// Predict calls f
func (f Func) Predict(ctx context.Context, req types.PredictionRequest) (*types.WireResponse, error) {
	return f(ctx, req)
}
