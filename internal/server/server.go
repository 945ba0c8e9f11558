package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jensneuse/abstractlogger"

	"github.com/hanpama/graphcache/internal/cache"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/reqid"
	"github.com/hanpama/graphcache/internal/response"
)

// Handler is an http.Handler that serves a Cache:
//
//	POST /write  folds a response into the cache and answers with the normalized page
//	POST /read   answers a query from the cache
//	GET  /store  dumps the cached store
type Handler struct {
	cache *cache.Cache
	opt   Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	Logger abstractlogger.Logger

	// Bus receives HTTP events. Nil publishes on the global bus.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option        { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                        { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option           { return func(o *Options) { o.MaxBodyBytes = n } }
func WithLogger(l abstractlogger.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithBus(b *eventbus.Bus) Option            { return func(o *Options) { o.Bus = b } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler serving c.
func New(c *cache.Cache, opts ...Option) (*Handler, error) {
	if c == nil {
		return nil, errors.New("server: nil cache")
	}
	op := Options{Timeout: 10 * time.Second, Logger: abstractlogger.NoopLogger}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{cache: c, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	var rid int64
	if id, ok := reqid.Parse(r.Header.Get(reqid.Header)); ok {
		ctx, rid = reqid.WithID(ctx, id)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(reqid.Header, reqid.Format(rid))

	status := http.StatusOK
	var failed error
	start := time.Now()
	eventbus.PublishTo(h.opt.Bus, ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.PublishTo(h.opt.Bus, ctx, events.HTTPFinish{Request: r, Status: status, Err: failed, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	var handle func(context.Context, http.ResponseWriter, *http.Request) (int, error)
	method := http.MethodPost
	switch r.URL.Path {
	case "/write":
		handle = h.write
	case "/read":
		handle = h.read
	case "/store":
		handle, method = h.dump, http.MethodGet
	default:
		failed = errNotFound
		status = h.fail(w, failed)
		return
	}
	if r.Method != method {
		w.Header().Set("Allow", method)
		failed = errMethodNotAllowed
		status = h.fail(w, failed)
		return
	}
	status, failed = handle(ctx, w, r)
}

// ------------------ Routes ------------------

// Request is the body of /write and /read. Data is only read by /write.
type Request struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName,omitempty"`
	Variables     map[string]any  `json:"variables,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

func (h *Handler) write(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	req, err := h.parseRequest(r)
	if err == nil && len(req.Data) == 0 {
		err = errors.New("missing 'data'")
	}
	if err != nil {
		return h.fail(w, err), err
	}
	page, err := h.cache.Write(ctx, cache.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Data:          req.Data,
	})
	if err != nil {
		return h.fail(w, err), err
	}
	body, err := page.Encode(h.opt.Pretty)
	if err != nil {
		return h.fail(w, err), err
	}
	return h.writeRaw(w, http.StatusOK, body), nil
}

func (h *Handler) read(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, error) {
	req, err := h.parseRequest(r)
	if err != nil {
		return h.fail(w, err), err
	}
	data, err := h.cache.Read(ctx, cache.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		return h.fail(w, err), err
	}
	h.writeJSON(w, http.StatusOK, resultBody{Data: &data})
	return http.StatusOK, nil
}

func (h *Handler) dump(_ context.Context, w http.ResponseWriter, _ *http.Request) (int, error) {
	body, err := h.cache.Snapshot().Encode(h.opt.Pretty)
	if err != nil {
		return h.fail(w, err), err
	}
	return h.writeRaw(w, http.StatusOK, body), nil
}

// ------------------ Request parsing ------------------

var (
	errNotFound           = errors.New("not found")
	errMethodNotAllowed   = errors.New("method not allowed")
	errBodyTooLarge       = errors.New("body too large")
	errUnsupportedContent = errors.New("unsupported Content-Type")
	errInvalidJSON        = errors.New("invalid JSON")
)

func (h *Handler) parseRequest(r *http.Request) (Request, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return Request{}, errUnsupportedContent
	}
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Request{}, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if h.opt.MaxBodyBytes > 0 && int64(len(body)) > h.opt.MaxBodyBytes {
		return Request{}, errBodyTooLarge
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, errInvalidJSON
	}
	if req.Query == "" {
		return Request{}, errors.New("missing 'query'")
	}
	if string(req.Data) == "null" {
		req.Data = nil
	}
	return req, nil
}

// ------------------ Response formatting ------------------

type errorBody struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type resultBody struct {
	Data   *response.Value `json:"data,omitempty"`
	Errors []errorBody     `json:"errors,omitempty"`
}

var failureKinds = []struct {
	kind   error
	code   string
	status int
}{
	{failure.ErrCacheMiss, "CACHE_MISS", http.StatusNotFound},
	{failure.ErrMergeConflict, "MERGE_CONFLICT", http.StatusConflict},
	{failure.ErrShapeMismatch, "SHAPE_MISMATCH", http.StatusUnprocessableEntity},
	{failure.ErrUnresolvedUnionMember, "UNRESOLVED_UNION_MEMBER", http.StatusUnprocessableEntity},
	{failure.ErrMalformedQuery, "MALFORMED_QUERY", http.StatusBadRequest},
	{failure.ErrMissingVariable, "MISSING_VARIABLE", http.StatusBadRequest},
	{failure.ErrInvalidVocabulary, "INVALID_VOCABULARY", http.StatusBadRequest},
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedContent):
		return http.StatusUnsupportedMediaType
	}
	for _, k := range failureKinds {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusBadRequest
}

func errorResponse(err error) resultBody {
	se := errorBody{Message: err.Error()}
	for _, k := range failureKinds {
		if errors.Is(err, k.kind) {
			se.Extensions = map[string]any{"code": k.code}
			break
		}
	}
	var fe *failure.Error
	if errors.As(err, &fe) && len(fe.Path) > 0 {
		se.Path = make([]any, len(fe.Path))
		for i, p := range fe.Path {
			se.Path[i] = p
		}
	}
	return resultBody{Errors: []errorBody{se}}
}

func (h *Handler) fail(w http.ResponseWriter, err error) int {
	status := statusOf(err)
	h.opt.Logger.Debug("request failed",
		abstractlogger.Int("status", status),
		abstractlogger.Error(err),
	)
	h.writeJSON(w, status, errorResponse(err))
	return status
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.opt.Logger.Error("write response", abstractlogger.Error(err))
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) int {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
