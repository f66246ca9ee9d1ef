package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
}

// requestID echoes the client's X-Request-ID or makes a new one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

// readBody reads at most the API's body limit. The returned Response is
// non-nil when the body could not be read.
func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *Response) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			resp := PayloadTooLarge(a.maxBody)
			return nil, &resp
		}
		resp := JSON(http.StatusBadRequest, map[string]string{
			"error":   "Bad Request",
			"message": "could not read request body",
		})
		return nil, &resp
	}
	return body, nil
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// serve reads the body, runs h and writes its response.
func (a *API) serve(w http.ResponseWriter, r *http.Request, h HandlerFunc) {
	body, errResp := a.readBody(w, r)
	if errResp != nil {
		writeResponse(w, *errResp)
		return
	}
	writeResponse(w, h(r.Context(), body))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// wrap applies the shared per-request behavior for net/http based adapters:
// request ID, CORS headers, preflight, panic recovery and access logging.
func (a *API) wrap(transport string, next http.Handler) http.Handler {
	logger := a.logger.With(zap.String("transport", transport))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := requestID(r)
		rec := &statusRecorder{ResponseWriter: w}

		h := w.Header()
		setCORS(h)
		h.Set(headerRequestID, id)

		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				if rec.status == 0 {
					writeResponse(rec, a.InternalError(fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, v)))
				} else {
					logger.Error("panic after response started", zap.Any("panic", v))
				}
			}
			logAccess(logger, r.Method, r.URL.Path, rec.status, time.Since(start), id)
		}()

		if r.Method == http.MethodOptions {
			writeResponse(rec, Preflight())
			return
		}
		next.ServeHTTP(rec, r)
	})
}

func logAccess(logger *zap.Logger, method, path string, status int, elapsed time.Duration, id string) {
	logger.Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.String("request_id", id),
	)
}
