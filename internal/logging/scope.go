package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BeginOp stamps the context with a fresh request ID, the operation
// identity, and a start time, and returns a logger carrying the same
// fields. Every externally triggered pipeline operation opens one of
// these so all its log lines correlate.
func BeginOp(ctx context.Context, logger *Logger, op, owner, dataset string) (context.Context, *Logger) {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = ContextWithRequestID(ctx, requestID)
	}
	ctx = ContextWithOperation(ctx, op)
	ctx = ContextWithRequestTime(ctx, time.Now())
	if owner != "" {
		ctx = ContextWithOwner(ctx, owner)
	}
	if dataset != "" {
		ctx = ContextWithDataset(ctx, dataset)
	}
	return ctx, logger.WithContext(ctx)
}
