package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewFrameworkHandler serves the API through a gin engine. The gin mode is
// process-wide and left to the caller.
func NewFrameworkHandler(a *API) http.Handler {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false

	logger := a.logger.With(zap.String("transport", NameFramework))

	r.Use(func(c *gin.Context) {
		start := time.Now()
		id := requestID(c.Request)
		c.Header(headerRequestID, id)
		c.Next()
		logAccess(logger, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), id)
	})

	// CORS
	r.Use(func(c *gin.Context) {
		setCORS(c.Writer.Header())
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	r.Use(gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		err := fmt.Errorf("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		resp := a.InternalError(err)
		c.Data(resp.Status, resp.ContentType, resp.Body)
		c.Abort()
	}))

	for _, route := range a.Routes() {
		h := route.Handle
		r.Handle(route.Method, route.Path, func(c *gin.Context) {
			a.serve(c.Writer, c.Request, h)
		})
	}

	r.NoRoute(func(c *gin.Context) {
		resp := NotFound(c.Request.Method, c.Request.URL.Path)
		c.Data(resp.Status, resp.ContentType, resp.Body)
	})

	return r
}
