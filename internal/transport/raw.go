package transport

import "net/http"

// NewRawHandler serves the API with hand-written dispatch: the method and
// path are matched exactly against the route table with no router in
// between.
func NewRawHandler(a *API) http.Handler {
	return a.wrap(NameRaw, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := a.Lookup(r.Method, r.URL.Path)
		if !ok {
			writeResponse(w, NotFound(r.Method, r.URL.Path))
			return
		}
		a.serve(w, r, h)
	}))
}
