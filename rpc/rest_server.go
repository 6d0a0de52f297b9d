package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/matrix-magiq/qvalidator/logger"
)

const (
	headerContentType = "Content-Type"
	headerPublicKey   = "X-Public-Key"
	headerSignature   = "X-Signature"
	applicationJson   = "application/json"
	applicationCBOR   = "application/cbor"

	DefaultMaxBodySize int64 = 4 * 1024 * 1024
)

var log = logger.CreateForPackage()

var allowedCORSHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", headerContentType, headerPublicKey, headerSignature}

type (
	// Registrar registers new HTTP handlers for given router.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc type is an adapter to allow the use of ordinary function as Registrar.
	RegistrarFunc func(r *mux.Router)

	Observability interface {
		ObserveHTTP(route string, statusCode int, seconds float64)
		Handler() http.Handler
	}
)

// NewRESTServer returns HTTP server serving the REST API under "/api/v1".
func NewRESTServer(addr string, maxBodySize int64, obs Observability, registrars ...Registrar) *http.Server {
	return &http.Server{
		Addr:              addr,
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler:           NewRESTHandler(maxBodySize, obs, registrars...),
	}
}

// NewRESTHandler returns the router of the REST API. Request bodies larger
// than maxBodySize are rejected, DefaultMaxBodySize is used when it's not positive.
func NewRESTHandler(maxBodySize int64, obs Observability, registrars ...Registrar) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	apiV1Router := r.PathPrefix("/api/v1").Subrouter()
	apiV1Router.Use(handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)), instrumentHTTP(obs))

	for _, registrar := range registrars {
		registrar.Register(apiV1Router)
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return http.MaxBytesHandler(r, maxBodySize)
}

func (f RegistrarFunc) Register(r *mux.Router) {
	f(r)
}

// MetricsEndpoints registers the Prometheus scrape endpoint.
func MetricsEndpoints(obs Observability) RegistrarFunc {
	return func(r *mux.Router) {
		if obs == nil {
			return
		}
		r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet, http.MethodOptions)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	rw := &ResponseWriter{}
	rw.ErrorResponse(w, http.StatusNotFound, errNotFound)
}
