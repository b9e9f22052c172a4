package hostfuncs

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a ByteHandler.
type Middleware func(next ByteHandler) ByteHandler

// PanicHandler is told about a panic recovered from a host function.
type PanicHandler func(ctx context.Context, value any)

// PanicRecoveryMiddleware turns a panicking host function into an
// INTERNAL_ERROR response. Each recovered panic is passed to onPanic, which
// is how the fault monitor learns that the instance is no longer trusted.
func PanicRecoveryMiddleware(onPanic PanicHandler) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(ctx, r)
					}
					resp, err = NewPanicError(r).ToJSON(), nil
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware logs each host call and its latency at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := []any{
				"function", FunctionName(ctx),
				"request_bytes", len(payload),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.WarnContext(ctx, "host function failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.DebugContext(ctx, "host function served", attrs...)
			return resp, nil
		}
	}
}

// SizeLimitMiddleware rejects requests larger than limit bytes.
func SizeLimitMiddleware(limit int) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if len(payload) > limit {
				return NewValidationError("request exceeds host limit").ToJSON(), nil
			}
			return next(ctx, payload)
		}
	}
}
