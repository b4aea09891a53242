package scheduler

import (
	"context"

	"anima/native/access"
)

// StaticExecutor is a stand-in production backend that acknowledges every
// request with a fixed quality score. The real executor is an external
// system behind the same interface.
type StaticExecutor struct {
	Quality float64
}

// Execute returns the configured quality score for any request.
func (e StaticExecutor) Execute(_ context.Context, req access.Request) (ExecutionResult, error) {
	quality := e.Quality
	if quality <= 0 || quality > 1 {
		quality = 0.95
	}
	return ExecutionResult{
		QualityScore: quality,
		Detail:       "rendered " + string(req.Resolution),
	}, nil
}
