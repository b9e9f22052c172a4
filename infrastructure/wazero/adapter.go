package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/reglet-workers/hostfuncs"
)

// DefaultModuleName is the import module guests link host functions from.
const DefaultModuleName = "worker_host"

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	Logger *slog.Logger

	// ModuleName is the host module name (default: "worker_host").
	ModuleName string

	// CustomHandlers are registered as-is, for host functions outside the
	// packed request/response pattern such as log_message.
	CustomHandlers []CustomHandler

	// MaxRequestSize limits a request read from guest memory (default 1MB).
	MaxRequestSize uint32
}

// CustomHandler is a raw wazero host function.
type CustomHandler struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name.
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) { c.ModuleName = name }
}

// WithMaxRequestSize sets the maximum request size read from guest memory.
func WithMaxRequestSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) { c.MaxRequestSize = size }
}

// WithCustomHandler adds a raw wazero host function.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) { c.CustomHandlers = append(c.CustomHandlers, h) }
}

// WithLogger sets the logger for host-side failures.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) { c.Logger = logger }
}

func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName:     DefaultModuleName,
		MaxRequestSize: hostfuncs.DefaultMaxRequestSize,
		Logger:         slog.Default(),
	}
}

// RegisterWithRuntime instantiates a host module exporting every handler of
// registry plus the custom handlers. Each registry handler reads its packed
// request from guest memory, invokes the handler, and returns the packed
// response written back into guest memory. A failure at the memory boundary
// is answered with an ErrorResponse; the guest is never trapped by the host.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, registry *hostfuncs.HandlerRegistry, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	for _, name := range registry.Names() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				stack[0] = handleRegistryCall(ctx, mod, stack[0], registry, name, &cfg)
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			Export(name)
	}
	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate host module %q: %w", cfg.ModuleName, err)
	}
	return nil
}

func handleRegistryCall(ctx context.Context, mod api.Module, packed uint64, registry *hostfuncs.HandlerRegistry, name string, cfg *AdapterConfig) uint64 {
	_, length := Unpack(packed)
	if length > cfg.MaxRequestSize {
		msg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, cfg.MaxRequestSize)
		cfg.Logger.WarnContext(ctx, "host function request rejected", "function", name, "reason", msg)
		return writeResponse(ctx, mod, hostfuncs.NewValidationError(msg).ToJSON(), cfg)
	}

	req, err := ReadPacked(mod, packed)
	if err != nil {
		cfg.Logger.ErrorContext(ctx, "host function request unreadable", "function", name, "error", err)
		return writeResponse(ctx, mod, hostfuncs.NewInternalError(err.Error()).ToJSON(), cfg)
	}

	resp, err := registry.Invoke(ctx, name, req)
	if err != nil {
		cfg.Logger.ErrorContext(ctx, "host function failed", "function", name, "error", err)
		resp = hostfuncs.NewInternalError(err.Error()).ToJSON()
	}
	return writeResponse(ctx, mod, resp, cfg)
}

// writeResponse returns the packed response, or 0 when the guest could not
// take it.
func writeResponse(ctx context.Context, mod api.Module, data []byte, cfg *AdapterConfig) uint64 {
	packed, err := WritePacked(ctx, mod, data)
	if err != nil {
		cfg.Logger.ErrorContext(ctx, "host function response not delivered", "error", err)
		return 0
	}
	return packed
}
