// Package server exposes a worker's dispatcher over HTTP.
//
// Routes:
//
//	GET  /__generation                                current generation
//	GET  /metrics                                     prometheus collectors
//	POST /__scheduled                                 scheduled hook
//	POST /__queue/{queue}                             queue hook
//	POST /__rpc/{symbol}                              registered symbol
//	POST /__objects/{class}/{name}/__call/{method}    durable object method
//	POST /__objects/{class}/{name}/__alarm            durable object alarm
//	*    /__objects/{class}/{name}/{path}             durable object fetch
//	*    /{path}                                      fetch hook
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/reglet-dev/reglet-workers/dispatch"
	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
)

// Handler translates HTTP requests into dispatcher invocations.
type Handler struct {
	d        *dispatch.Dispatcher
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
	timeout  time.Duration
	maxBody  int64
}

// New creates a Handler over d.
func New(d *dispatch.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		d:       d,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer(""),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a router serving every route.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the worker routes on r. The fetch catch-all is
// registered last.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.NewRoute().Subrouter()
	api.Use(h.requestContext)

	api.HandleFunc("/__generation", h.Generation).Methods("GET")
	api.HandleFunc("/__scheduled", h.Scheduled).Methods("POST")
	api.HandleFunc("/__queue/{queue}", h.Queue).Methods("POST")
	api.HandleFunc("/__rpc/{symbol}", h.Call).Methods("POST")

	api.HandleFunc("/__objects/{class}/{name}/__call/{method}", h.ObjectCall).Methods("POST")
	api.HandleFunc("/__objects/{class}/{name}/__alarm", h.ObjectAlarm).Methods("POST")
	api.HandleFunc("/__objects/{class}/{name}", h.ObjectFetch)
	api.HandleFunc("/__objects/{class}/{name}/{path:.*}", h.ObjectFetch)

	api.PathPrefix("/").HandlerFunc(h.Fetch)
}

// Generation answers with the current module generation.
func (h *Handler) Generation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"generation": uint64(h.d.Generation())})
}

// Fetch delivers the request to the module's fetch hook.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	req, err := h.toRequest(r, r.URL.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	resp, err := h.d.Fetch(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResponse(w, resp)
}

// Scheduled delivers a cron event. An empty body fires with the current time.
func (h *Handler) Scheduled(w http.ResponseWriter, r *http.Request) {
	var event entities.ScheduledEvent
	if err := h.decodeBody(r, "ScheduledEvent", &event); err != nil {
		h.writeError(w, r, err)
		return
	}
	if event.ScheduledTime.IsZero() {
		event.ScheduledTime = time.Now().UTC()
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	if err := h.d.Scheduled(ctx, event); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Queue delivers a batch of messages to the queue named in the path. The
// body is a JSON array of messages; missing ids and timestamps are filled in.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	var messages []entities.QueueMessage
	if err := h.decodeBody(r, "QueueBatch", &messages); err != nil {
		h.writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = uuid.NewString()
		}
		if messages[i].Timestamp.IsZero() {
			messages[i].Timestamp = now
		}
	}
	batch := entities.QueueBatch{Queue: mux.Vars(r)["queue"], Messages: messages}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	if err := h.d.Queue(ctx, batch); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Call invokes a registered symbol with the request body as arguments.
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	args, err := h.readArgs(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	out, err := h.d.Call(ctx, mux.Vars(r)["symbol"], args)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, out)
}

// ObjectFetch delivers the request to a durable object's fetch method. The
// object sees the path below its name.
func (h *Handler) ObjectFetch(w http.ResponseWriter, r *http.Request) {
	stub, err := h.stub(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.toRequest(r, "/"+mux.Vars(r)["path"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	resp, err := stub.Fetch(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResponse(w, resp)
}

// ObjectCall invokes a public method of a durable object.
func (h *Handler) ObjectCall(w http.ResponseWriter, r *http.Request) {
	stub, err := h.stub(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	args, err := h.readArgs(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	out, err := stub.Call(ctx, mux.Vars(r)["method"], args)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, out)
}

// ObjectAlarm runs a durable object's alarm handler.
func (h *Handler) ObjectAlarm(w http.ResponseWriter, r *http.Request) {
	stub, err := h.stub(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.invocationContext(r.Context())
	defer cancel()

	if err := stub.Alarm(ctx); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stub(r *http.Request) (*dispatch.Stub, error) {
	vars := mux.Vars(r)
	ns, err := h.d.Namespace(vars["class"])
	if err != nil {
		return nil, err
	}
	return ns.Get(ns.IDFromName(vars["name"])), nil
}

// invocationContext detaches the call from the client connection. A done
// ctx closes the shared instance, so only the configured timeout may end it.
func (h *Handler) invocationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

// toRequest converts r into the guest's request format, addressed at path.
func (h *Handler) toRequest(r *http.Request, path string) (*entities.Request, error) {
	body, err := h.readBody(r)
	if err != nil {
		return nil, err
	}

	u := *r.URL
	u.Path = path
	u.RawPath = ""
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}

	return &entities.Request{
		Method:  r.Method,
		URL:     u.String(),
		Headers: r.Header.Clone(),
		Body:    string(body),
	}, nil
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		return nil, &werrors.WireFormatError{Err: err, Operation: "read", Type: "request body"}
	}
	if int64(len(body)) > h.maxBody {
		return nil, &werrors.WireFormatError{Err: errBodyTooLarge, Operation: "read", Type: "request body"}
	}
	return body, nil
}

var errBodyTooLarge = errors.New("request body too large")

// readArgs returns the body as JSON arguments. An empty body means no
// arguments.
func (h *Handler) readArgs(r *http.Request) (json.RawMessage, error) {
	body, err := h.readBody(r)
	if err != nil || len(body) == 0 {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &werrors.WireFormatError{Err: errors.New("invalid JSON"), Operation: "decode", Type: "arguments"}
	}
	return body, nil
}

func (h *Handler) decodeBody(r *http.Request, typ string, out any) error {
	body, err := h.readBody(r)
	if err != nil || len(body) == 0 {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &werrors.WireFormatError{Err: err, Operation: "decode", Type: typ}
	}
	return nil
}

// errorBody is the JSON shape of every failed invocation.
type errorBody struct {
	Error *entities.ErrorDetail `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := werrors.HTTPStatus(err)
	detail := werrors.ToErrorDetail(err)
	if status >= http.StatusInternalServerError {
		h.logger.WarnContext(r.Context(), "invocation failed",
			"path", r.URL.Path,
			"category", werrors.CategoryOf(err),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeResponse(w http.ResponseWriter, resp *entities.Response) {
	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
