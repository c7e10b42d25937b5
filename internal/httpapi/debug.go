package httpapi

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// registerDebugHandlers wires the same pprof surface as the teacher's
// registerProfileHandlers, unprefixed since this service has no other
// route namespace to collide with.
func registerDebugHandlers(mux *httprouter.Router) {
	mux.Handler("GET", "/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", "/debug/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", "/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", "/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", "/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", "/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", "/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", "/debug/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", "/debug/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", "/debug/pprof/trace", pprof.Trace)
}
