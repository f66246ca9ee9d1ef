package transport

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stellarlinkco/aiplatform/internal/config"
	"github.com/stellarlinkco/aiplatform/internal/platform"
)

//go:embed static/index.html
var landingPage []byte

const (
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeHTML = "text/html; charset=utf-8"

	headerRequestID = "X-Request-ID"

	allowOrigin  = "*"
	allowMethods = "GET, POST, OPTIONS"
	allowHeaders = "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID"
)

// Response is the transport-neutral result of one request.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// HandlerFunc serves one route given the raw request body.
type HandlerFunc func(ctx context.Context, body []byte) Response

type Route struct {
	Method string
	Path   string
	Handle HandlerFunc
}

type APIOptions struct {
	Logger       *zap.Logger
	Production   bool
	MaxBodyBytes int64
	// LandingPage is served at GET /. Empty selects the built-in page.
	LandingPage string
}

// OptionsFromConfig maps server settings onto APIOptions.
func OptionsFromConfig(cfg config.ServerConfig, logger *zap.Logger) APIOptions {
	return APIOptions{
		Logger:       logger,
		Production:   cfg.Mode == config.ModeProduction,
		MaxBodyBytes: cfg.MaxBodyBytes,
		LandingPage:  cfg.LandingPage,
	}
}

// API binds the platform core to the HTTP contract every adapter shares:
// the route table, CORS, envelopes and body handling.
type API struct {
	platform   *platform.Platform
	logger     *zap.Logger
	production bool
	maxBody    int64
	landing    string

	routes []Route
	index  map[string]HandlerFunc
}

func NewAPI(p *platform.Platform, opts APIOptions) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}
	a := &API{
		platform:   p,
		logger:     logger,
		production: opts.Production,
		maxBody:    maxBody,
		landing:    opts.LandingPage,
	}
	a.setRoutes([]Route{
		{http.MethodGet, "/health", a.health},
		{http.MethodGet, "/api/v1/tools", a.tools},
		{http.MethodGet, "/api/v1/memory", a.getMemory},
		{http.MethodPost, "/api/v1/memory", a.storeMemory},
		{http.MethodGet, "/api/v1/plans", a.getPlans},
		{http.MethodPost, "/api/v1/plans", a.createPlan},
		{http.MethodGet, "/api/v1/capabilities", a.capabilities},
		{http.MethodGet, "/api/v1/demo", a.demo},
		{http.MethodGet, "/", a.landingPage},
	})
	return a
}

func (a *API) setRoutes(routes []Route) {
	a.routes = routes
	a.index = make(map[string]HandlerFunc, len(routes))
	for _, r := range routes {
		a.index[r.Method+" "+r.Path] = r.Handle
	}
}

// Routes returns the route table in registration order.
func (a *API) Routes() []Route {
	out := make([]Route, len(a.routes))
	copy(out, a.routes)
	return out
}

// Lookup finds the handler for an exact, case-sensitive method and path.
func (a *API) Lookup(method, path string) (HandlerFunc, bool) {
	h, ok := a.index[method+" "+path]
	return h, ok
}

// Handle dispatches one request the way every adapter must: OPTIONS is a
// preflight, unknown routes get the not-found envelope.
func (a *API) Handle(ctx context.Context, method, path string, body []byte) Response {
	if method == http.MethodOptions {
		return Preflight()
	}
	h, ok := a.Lookup(method, path)
	if !ok {
		return NotFound(method, path)
	}
	return h(ctx, body)
}

func (a *API) health(context.Context, []byte) Response {
	return JSON(http.StatusOK, a.platform.GetHealth())
}

func (a *API) tools(context.Context, []byte) Response {
	return JSON(http.StatusOK, a.platform.GetTools())
}

func (a *API) capabilities(context.Context, []byte) Response {
	return JSON(http.StatusOK, a.platform.GetCapabilities())
}

func (a *API) demo(context.Context, []byte) Response {
	return JSON(http.StatusOK, a.platform.GetDemo())
}

func (a *API) getMemory(ctx context.Context, _ []byte) Response {
	res, err := a.platform.GetMemory(ctx)
	return a.result(res, err)
}

func (a *API) storeMemory(ctx context.Context, body []byte) Response {
	fields, errResp := decodeObject(body)
	if errResp != nil {
		return *errResp
	}
	res, err := a.platform.StoreMemory(ctx, platform.StoreMemoryInput{
		Key:   fields["key"],
		Value: fields["value"],
	})
	return a.result(res, err)
}

func (a *API) getPlans(ctx context.Context, _ []byte) Response {
	res, err := a.platform.GetPlans(ctx)
	return a.result(res, err)
}

func (a *API) createPlan(ctx context.Context, body []byte) Response {
	fields, errResp := decodeObject(body)
	if errResp != nil {
		return *errResp
	}
	res, err := a.platform.CreatePlan(ctx, platform.CreatePlanInput{
		TaskDescription: fields["task_description"],
		Steps:           fields["steps"],
	})
	return a.result(res, err)
}

func (a *API) landingPage(context.Context, []byte) Response {
	if a.landing == "" {
		return Response{Status: http.StatusOK, ContentType: contentTypeHTML, Body: landingPage}
	}
	data, err := os.ReadFile(a.landing)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NotFound(http.MethodGet, "/")
		}
		return a.InternalError(fmt.Errorf("read landing page: %w", err))
	}
	return Response{Status: http.StatusOK, ContentType: contentTypeHTML, Body: data}
}

func (a *API) result(v any, err error) Response {
	if err == nil {
		return JSON(http.StatusOK, v)
	}
	var ve *platform.ValidationError
	if errors.As(err, &ve) {
		return JSON(http.StatusBadRequest, map[string]string{"error": ve.Message})
	}
	return a.InternalError(err)
}

// InternalError logs err and returns a 500. Production mode hides the
// error text from the client.
func (a *API) InternalError(err error) Response {
	a.logger.Error("internal error", zap.Error(err))
	msg := "An unexpected error occurred"
	if !a.production {
		msg = err.Error()
	}
	return JSON(http.StatusInternalServerError, map[string]string{
		"error":   "Internal Server Error",
		"message": msg,
	})
}

func JSON(status int, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{"error":"Internal Server Error","message":"response encoding failed"}`)
		status = http.StatusInternalServerError
	}
	return Response{Status: status, ContentType: contentTypeJSON, Body: data}
}

func Preflight() Response {
	return Response{Status: http.StatusOK}
}

func NotFound(method, path string) Response {
	return JSON(http.StatusNotFound, map[string]string{
		"error":     "Not Found",
		"message":   fmt.Sprintf("Route %s %s not found", method, path),
		"timestamp": platform.FormatTime(time.Now()),
	})
}

func PayloadTooLarge(limit int64) Response {
	return JSON(http.StatusRequestEntityTooLarge, map[string]string{
		"error":   "Payload Too Large",
		"message": fmt.Sprintf("Request body exceeds %d bytes", limit),
	})
}

// decodeObject parses a request body as a JSON object. An empty body or a
// JSON document that is not an object yields no fields; malformed JSON,
// including invalid UTF-8, is a 400.
func decodeObject(body []byte) (map[string]json.RawMessage, *Response) {
	fields := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fields, nil
	}
	// encoding/json would replace bad bytes with U+FFFD and merge distinct keys
	if !utf8.Valid(trimmed) {
		return nil, invalidJSON("request body is not valid UTF-8")
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, invalidJSON(err.Error())
	}
	if trimmed[0] != '{' {
		return fields, nil
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, invalidJSON(err.Error())
	}
	return fields, nil
}

func invalidJSON(message string) *Response {
	resp := JSON(http.StatusBadRequest, map[string]string{
		"error":   "Invalid JSON",
		"message": message,
	})
	return &resp
}
