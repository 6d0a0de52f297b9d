package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/matrix-magiq/qvalidator/events"
)

const (
	applicationNDJSON = "application/x-ndjson"

	eventsBufferSize = 64
)

type (
	eventsRestAPI struct {
		bus *events.Bus
		rw  *ResponseWriter
	}

	EventResponse struct {
		Kind    events.Kind  `json:"kind"`
		Message string       `json:"message"`
		Event   events.Event `json:"event"`
	}
)

// NewEventsAPI returns registrar of the event stream endpoint. Events of the
// bus are streamed as newline delimited JSON until the client disconnects or
// the bus is closed.
func NewEventsAPI(bus *events.Bus) Registrar {
	api := &eventsRestAPI{
		bus: bus,
		rw:  &ResponseWriter{LogErr: func(err error) { log.Error("REST API: %v", err) }},
	}
	return RegistrarFunc(api.Register)
}

func (api *eventsRestAPI) Register(r *mux.Router) {
	r.HandleFunc("/events", api.streamEvents).Methods(http.MethodGet, http.MethodOptions)
}

// streamEvents subscribes to the kinds given by the "kind" query parameter
// (repeatable), to all kinds when none given.
func (api *eventsRestAPI) streamEvents(w http.ResponseWriter, r *http.Request) {
	var kinds []events.Kind
	for _, s := range r.URL.Query()["kind"] {
		k, err := events.ParseKind(s)
		if err != nil {
			api.rw.InvalidParamResponse(w, "kind", err)
			return
		}
		kinds = append(kinds, k)
	}
	sub := api.bus.Subscribe(eventsBufferSize, kinds...)
	defer sub.Unsubscribe()

	// the stream outlives the server's write timeout
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	w.Header().Set(headerContentType, applicationNDJSON)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Debug("event stream: %v", err)
		return
	}
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := enc.Encode(&EventResponse{Kind: e.Kind(), Message: e.String(), Event: e}); err != nil {
				log.Debug("event stream: %v", err)
				return
			}
			if err := rc.Flush(); err != nil {
				log.Debug("event stream: %v", err)
				return
			}
		}
	}
}
