package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

/*
instrumentHTTP returns http middleware which records number of calls and
request duration of every endpoint.
*/
func instrumentHTTP(obs Observability) func(next http.Handler) http.Handler {
	if obs == nil {
		return passthroughMW
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			route := "unknown"
			if r := mux.CurrentRoute(req); r != nil {
				if path, err := r.GetPathTemplate(); err != nil {
					log.Warning("reading route path: %v", err)
				} else {
					route = path
				}
			}

			start := time.Now()
			rsp := newStatusResponseWriter(w)
			next.ServeHTTP(rsp, req)
			obs.ObserveHTTP(route, rsp.statusCode, time.Since(start).Seconds())
		})
	}
}

/*
passthroughMW is NOP middleware.
*/
func passthroughMW(next http.Handler) http.Handler {
	return next
}

/*
statusResponseWriter is a http.ResponseWriter wrapper which allows to capture
status code of the response.
*/
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (mw *statusResponseWriter) WriteHeader(statusCode int) {
	mw.ResponseWriter.WriteHeader(statusCode)

	if !mw.headerWritten {
		mw.statusCode = statusCode
		mw.headerWritten = true
	}
}

func (mw *statusResponseWriter) Write(b []byte) (int, error) {
	mw.headerWritten = true
	return mw.ResponseWriter.Write(b)
}

func (mw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
