package transport

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouterHandler serves the API through gorilla/mux.
func NewRouterHandler(a *API) http.Handler {
	r := mux.NewRouter()
	// keep paths exactly as sent: no cleaning, no trailing-slash redirects
	r.SkipClean(true)
	r.StrictSlash(false)

	for _, route := range a.Routes() {
		h := route.Handle
		r.HandleFunc(route.Path, func(w http.ResponseWriter, req *http.Request) {
			a.serve(w, req, h)
		}).Methods(route.Method)
	}

	notFound := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeResponse(w, NotFound(req.Method, req.URL.Path))
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	return a.wrap(NameRouter, r)
}
