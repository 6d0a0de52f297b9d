package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Emitter(t *testing.T) {
	m := NewMetrics()
	em := m.Emitter()
	em.Emit(events.OperationSubmittedEvent{})
	em.Emit(events.OperationSubmittedEvent{})
	em.Emit(events.OperationValidatedEvent{Status: types.ValidationSuccess})
	em.Emit(events.OperationValidatedEvent{Status: types.ValidationFailed})
	em.Emit(events.OperationValidatedEvent{Status: types.ValidationFailed})
	em.Emit(events.OperationExpiredEvent{})
	em.Emit(events.ValidatorRegisteredEvent{})
	em.Emit(events.ValidatorRemovedEvent{})

	require.EqualValues(t, 2, testutil.ToFloat64(m.operationsSubmitted))
	require.EqualValues(t, 1, testutil.ToFloat64(m.operationsValidated.WithLabelValues("success")))
	require.EqualValues(t, 2, testutil.ToFloat64(m.operationsValidated.WithLabelValues("failed")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.operationsExpired))
	require.EqualValues(t, 1, testutil.ToFloat64(m.validatorEvents.WithLabelValues("ValidatorRegistered")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.validatorEvents.WithLabelValues("ValidatorRemoved")))
}

func TestMetrics_CorrectionObserver(t *testing.T) {
	m := NewMetrics()
	obs := m.CorrectionObserver()
	obs("classical", nil)
	obs("bridge", errors.New("broken"))
	require.EqualValues(t, 1, testutil.ToFloat64(m.correctionStages.WithLabelValues("classical", "ok")))
	require.EqualValues(t, 1, testutil.ToFloat64(m.correctionStages.WithLabelValues("bridge", "err")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SetBlockHeight(42)
	m.ObserveHTTP("/api/v1/operations", http.StatusOK, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "qv_ledger_block_height 42")
	require.Contains(t, string(body), `qv_rest_api_calls_total{code="200",route="/api/v1/operations"} 1`)
}
