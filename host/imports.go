package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	"github.com/reglet-dev/reglet-workers/domain/ports"
	wz "github.com/reglet-dev/reglet-workers/infrastructure/wazero"
	"github.com/reglet-dev/reglet-workers/internal/wasmcontext"
)

// logMessageHandler forwards guest log records to slog.
func logMessageHandler(logger *slog.Logger) wz.CustomHandler {
	return wz.CustomHandler{
		Name:       "log_message",
		ParamTypes: []api.ValueType{api.ValueTypeI64},
		Handler: func(ctx context.Context, mod api.Module, stack []uint64) {
			payload, err := wz.ReadPacked(mod, stack[0])
			if err != nil {
				logger.WarnContext(ctx, "guest log unreadable", "error", err)
				return
			}

			var rec entities.LogWire
			if err := json.Unmarshal(payload, &rec); err != nil {
				logger.InfoContext(ctx, "guest log (raw)", "payload", string(payload))
				return
			}

			attrs := make([]any, 0, 2*len(rec.Attrs)+2)
			if id := wasmcontext.RequestIDFrom(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			for k, v := range rec.Attrs {
				attrs = append(attrs, k, v)
			}
			logger.Log(ctx, parseLevel(rec.Level), rec.Message, attrs...)
		},
	}
}

// reportFaultHandler is the guest's fault hook. The payload is a FaultWire
// record or a bare message.
func reportFaultHandler(reporter ports.FaultReporter, logger *slog.Logger) wz.CustomHandler {
	return wz.CustomHandler{
		Name:       "report_fault",
		ParamTypes: []api.ValueType{api.ValueTypeI64},
		Handler: func(ctx context.Context, mod api.Module, stack []uint64) {
			msg := "guest reported a fault"
			if payload, err := wz.ReadPacked(mod, stack[0]); err == nil && len(payload) > 0 {
				var f entities.FaultWire
				if json.Unmarshal(payload, &f) == nil && f.Message != "" {
					msg = f.Message
				} else {
					msg = string(payload)
				}
			}

			if reporter == nil {
				logger.ErrorContext(ctx, "guest fault with no reporter", "message", msg)
				return
			}
			reporter.ReportCritical(ctx, msg)
		},
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
