package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/jam"
	"github.com/matrix-magiq/qvalidator/keyvaluedb/memorydb"
	"github.com/matrix-magiq/qvalidator/observability"
	"github.com/matrix-magiq/qvalidator/operations"
	test "github.com/matrix-magiq/qvalidator/testutils"
	testsig "github.com/matrix-magiq/qvalidator/testutils/sig"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/validators"
	"github.com/stretchr/testify/require"
)

type apiEnv struct {
	srv     *httptest.Server
	node    *jam.Coordinator
	height  *test.BlockHeight
	metrics *observability.Metrics
	bus     *events.Bus
	admin   crypto.Signer
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	env := &apiEnv{height: test.NewBlockHeight(100), metrics: observability.NewMetrics(), bus: events.NewBus()}
	node, err := jam.NewCoordinator(memorydb.New(), env.height.Get, jam.WithEmitter(events.Multi(env.metrics.Emitter(), env.bus)))
	require.NoError(t, err)
	env.node = node
	admin, _, adminID := testsig.CreateAccount(t)
	env.admin = admin
	server := NewRESTServer("", 0, env.metrics, NewJamAPI(node, adminID), NewEventsAPI(env.bus), MetricsEndpoints(env.metrics))
	env.srv = httptest.NewServer(server.Handler)
	t.Cleanup(env.srv.Close)
	t.Cleanup(env.bus.Close)
	return env
}

func (env *apiEnv) do(t *testing.T, signer crypto.Signer, method, path string, data any) (int, []byte) {
	t.Helper()
	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, env.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(headerContentType, applicationJson)
	if signer != nil {
		require.NoError(t, SignRequest(req, signer, types.DefaultHashAlgorithm, body))
	}
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	b, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	return rsp.StatusCode, b
}

func (env *apiEnv) decode(t *testing.T, code, expectedCode int, body []byte, v any) {
	t.Helper()
	require.Equal(t, expectedCode, code, string(body))
	require.NoError(t, json.Unmarshal(body, v))
}

func (env *apiEnv) registerValidator(t *testing.T) (crypto.Signer, types.AccountID) {
	t.Helper()
	signer, pubKey, id := testsig.CreateAccount(t)
	code, body := env.do(t, signer, http.MethodPost, "/api/v1/validators", &RegisterValidatorRequest{Stake: "1000", KeyType: types.KeyTypeECDSA})
	rsp := &ValidatorResponse{}
	env.decode(t, code, http.StatusCreated, body, rsp)
	require.Equal(t, id, rsp.AccountID)
	require.Equal(t, "1000", rsp.Stake)
	require.EqualValues(t, pubKey, rsp.PublicKey)
	require.Equal(t, types.ValidatorActive, rsp.Status)
	return signer, id
}

func (env *apiEnv) submit(t *testing.T, signer crypto.Signer, expiresAt uint64) types.OperationID {
	t.Helper()
	req := &SubmitOperationRequest{
		TargetChain: 7,
		Kind:        types.NewKind(types.MessagePassing),
		Payload:     test.CborPayload(t, "hello"),
		ExpiresAt:   expiresAt,
	}
	code, body := env.do(t, signer, http.MethodPost, "/api/v1/operations", req)
	rsp := &SubmitOperationResponse{}
	env.decode(t, code, http.StatusCreated, body, rsp)
	require.Len(t, rsp.OperationID, types.DefaultHashAlgorithm.Size())
	return rsp.OperationID
}

func TestOperationLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	v1, _ := env.registerValidator(t)
	v2, _ := env.registerValidator(t)
	v3, _ := env.registerValidator(t)
	user, _, _ := testsig.CreateAccount(t)

	id := env.submit(t, user, 120)
	path := "/api/v1/operations/" + id.String()

	op := &types.Operation{}
	code, body := env.do(t, nil, http.MethodGet, path, nil)
	env.decode(t, code, http.StatusOK, body, op)
	require.Equal(t, id, op.ID)
	require.EqualValues(t, 100, op.CreatedAt)
	require.Equal(t, types.OperationPending, op.Status)

	proof := &types.JamProof{}
	code, body = env.do(t, nil, http.MethodGet, path+"/proof", nil)
	env.decode(t, code, http.StatusOK, body, proof)
	require.NoError(t, jam.VerifyProof(proof, op.BlockRoot, types.DefaultHashAlgorithm))

	receipt := &jam.VoteReceipt{}
	code, body = env.do(t, v1, http.MethodPost, path+"/votes", &CastVoteRequest{Vote: types.VoteApprove, Proof: proof})
	env.decode(t, code, http.StatusOK, body, receipt)
	require.True(t, receipt.Counted)
	require.False(t, receipt.Finalized)
	require.EqualValues(t, 2, receipt.Tally.Threshold)

	// same validator again
	code, _ = env.do(t, v1, http.MethodPost, path+"/votes", &CastVoteRequest{Vote: types.VoteApprove, Proof: proof})
	require.Equal(t, http.StatusConflict, code)

	code, body = env.do(t, v2, http.MethodPost, path+"/votes", &CastVoteRequest{Vote: types.VoteApprove, Proof: proof})
	env.decode(t, code, http.StatusOK, body, receipt)
	require.True(t, receipt.Finalized)
	require.Equal(t, types.OperationCompleted, receipt.Status)

	code, _ = env.do(t, v3, http.MethodPost, path+"/votes", &CastVoteRequest{Vote: types.VoteReject})
	require.Equal(t, http.StatusConflict, code)

	status := &OperationStatusResponse{}
	code, body = env.do(t, nil, http.MethodGet, path+"/status", nil)
	env.decode(t, code, http.StatusOK, body, status)
	require.Equal(t, types.OperationCompleted, status.Status)
	require.Contains(t, string(body), `"status":"completed"`)

	res := &types.ValidationResult{}
	code, body = env.do(t, nil, http.MethodGet, path+"/result", nil)
	env.decode(t, code, http.StatusOK, body, res)
	require.Equal(t, types.ValidationSuccess, res.Status)
	require.Len(t, res.Validators, 2)

	var atts []*types.Attestation
	code, body = env.do(t, nil, http.MethodGet, path+"/attestations", nil)
	env.decode(t, code, http.StatusOK, body, &atts)
	require.Len(t, atts, 2)

	block := &BlockResponse{}
	code, body = env.do(t, nil, http.MethodGet, "/api/v1/blocks/100/operations", nil)
	env.decode(t, code, http.StatusOK, body, block)
	require.Equal(t, []types.OperationID{id}, block.Operations)

	code, body = env.do(t, nil, http.MethodGet, "/api/v1/blocks/latest", nil)
	env.decode(t, code, http.StatusOK, body, block)
	require.EqualValues(t, 100, block.Number)

	code, body = env.do(t, nil, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "qv_operations_submitted_total 1")
	require.Contains(t, string(body), `qv_operations_validated_total{status="success"} 1`)
}

func TestOperation_Expired(t *testing.T) {
	env := newAPIEnv(t)
	v1, _ := env.registerValidator(t)
	user, _, _ := testsig.CreateAccount(t)
	id := env.submit(t, user, 110)
	path := "/api/v1/operations/" + id.String()

	env.height.Set(111)
	code, body := env.do(t, v1, http.MethodPost, path+"/votes", &CastVoteRequest{Vote: types.VoteApprove})
	require.Equal(t, http.StatusGone, code, string(body))

	status := &OperationStatusResponse{}
	code, body = env.do(t, nil, http.MethodGet, path+"/status", nil)
	env.decode(t, code, http.StatusOK, body, status)
	require.Equal(t, types.OperationExpired, status.Status)

	code, _ = env.do(t, nil, http.MethodGet, path+"/result", nil)
	require.Equal(t, http.StatusGone, code)
}

func TestOperation_ExpiredOnResultRead(t *testing.T) {
	env := newAPIEnv(t)
	user, _, _ := testsig.CreateAccount(t)
	id := env.submit(t, user, 110)
	path := "/api/v1/operations/" + id.String()

	env.height.Set(111)
	code, body := env.do(t, nil, http.MethodGet, path+"/result", nil)
	require.Equal(t, http.StatusGone, code, string(body))
	var atts []*types.Attestation
	code, body = env.do(t, nil, http.MethodGet, path+"/attestations", nil)
	env.decode(t, code, http.StatusOK, body, &atts)
	require.Empty(t, atts)

	// status is read back from the store, not recomputed
	env.height.Set(100)
	status := &OperationStatusResponse{}
	code, body = env.do(t, nil, http.MethodGet, path+"/status", nil)
	env.decode(t, code, http.StatusOK, body, status)
	require.Equal(t, types.OperationExpired, status.Status)
}

func TestListOperations(t *testing.T) {
	env := newAPIEnv(t)
	v1, _ := env.registerValidator(t)
	user, _, _ := testsig.CreateAccount(t)
	done := env.submit(t, user, 120)
	pending := env.submit(t, user, 130)
	code, _ := env.do(t, v1, http.MethodPost, "/api/v1/operations/"+done.String()+"/votes", &CastVoteRequest{Vote: types.VoteReject})
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		query string
		want  []types.OperationID
	}{
		{query: "", want: []types.OperationID{done, pending}},
		{query: "?status=failed", want: []types.OperationID{done}},
		{query: "?status=pending&status=failed", want: []types.OperationID{done, pending}},
		{query: "?status=completed", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var list []*OperationSummary
			code, body := env.do(t, nil, http.MethodGet, "/api/v1/operations"+tt.query, nil)
			env.decode(t, code, http.StatusOK, body, &list)
			var ids []types.OperationID
			for _, op := range list {
				require.EqualValues(t, 7, op.TargetChain)
				ids = append(ids, op.OperationID)
			}
			require.ElementsMatch(t, tt.want, ids)
		})
	}
	code, _ = env.do(t, nil, http.MethodGet, "/api/v1/operations?status=lost", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSlashValidator(t *testing.T) {
	env := newAPIEnv(t)
	signer, id := env.registerValidator(t)
	other, _ := env.registerValidator(t)
	path := "/api/v1/validators/" + id.String()

	// neither the validator nor its peers can slash
	code, _ := env.do(t, signer, http.MethodPost, path+"/slash", nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = env.do(t, other, http.MethodPost, path+"/slash", nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = env.do(t, nil, http.MethodPost, path+"/slash", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	v := &ValidatorResponse{}
	code, body := env.do(t, env.admin, http.MethodPost, path+"/slash", nil)
	env.decode(t, code, http.StatusOK, body, v)
	require.Equal(t, types.ValidatorSlashed, v.Status)
	code, _ = env.do(t, env.admin, http.MethodPost, path+"/slash", nil)
	require.Equal(t, http.StatusConflict, code)
	code, _ = env.do(t, env.admin, http.MethodPost, "/api/v1/validators/nobody/slash", nil)
	require.Equal(t, http.StatusNotFound, code)

	// a slashed validator can not reactivate or leave
	for _, status := range []types.ValidatorStatus{types.ValidatorActive, types.ValidatorOffline, types.ValidatorLeaving} {
		code, body = env.do(t, signer, http.MethodPut, path+"/status", &UpdateValidatorStatusRequest{Status: status})
		require.Equal(t, http.StatusConflict, code, string(body))
	}
	code, _ = env.do(t, signer, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusConflict, code)
	code, body = env.do(t, nil, http.MethodGet, path, nil)
	env.decode(t, code, http.StatusOK, body, v)
	require.Equal(t, types.ValidatorSlashed, v.Status)
}

func TestSubmitOperation_Errors(t *testing.T) {
	env := newAPIEnv(t)
	user, _, _ := testsig.CreateAccount(t)
	valid := &SubmitOperationRequest{Kind: types.NewKind(types.AssetTransfer), Payload: test.CborPayload(t, 1), ExpiresAt: 200}

	tests := []struct {
		name   string
		signer crypto.Signer
		data   any
		code   int
		errMsg string
	}{
		{name: "not signed", data: valid, code: http.StatusUnauthorized, errMsg: "missing or invalid X-Public-Key header"},
		{name: "empty body", signer: user, code: http.StatusBadRequest, errMsg: "request body is empty"},
		{name: "unknown field", signer: user, data: map[string]any{"foo": 1}, code: http.StatusBadRequest, errMsg: "unknown field"},
		{name: "expires in the past", signer: user, data: &SubmitOperationRequest{Kind: types.NewKind(types.AssetTransfer), Payload: test.CborPayload(t, 1), ExpiresAt: 100}, code: http.StatusUnprocessableEntity},
		{name: "payload too large", signer: user, data: &SubmitOperationRequest{Kind: types.NewKind(types.AssetTransfer), Payload: make([]byte, jam.DefaultMaxPayloadSize+1), ExpiresAt: 200}, code: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.signer, http.MethodPost, "/api/v1/operations", tt.data)
			require.Equal(t, tt.code, code, string(body))
			if tt.errMsg != "" {
				require.Contains(t, string(body), tt.errMsg)
			}
		})
	}

	code, body := env.do(t, user, http.MethodPost, "/api/v1/operations", valid)
	require.Equal(t, http.StatusCreated, code, string(body))
	code, _ = env.do(t, user, http.MethodPost, "/api/v1/operations", valid)
	require.Equal(t, http.StatusConflict, code)
}

func TestSignature_Tampered(t *testing.T) {
	env := newAPIEnv(t)
	user, _, _ := testsig.CreateAccount(t)
	body := []byte(`{"kind":"asset_transfer","payload":"0x01","expires_at":200}`)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/operations", bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, user, types.DefaultHashAlgorithm, []byte(`{"kind":"asset_transfer","payload":"0x01","expires_at":300}`)))
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, rsp.StatusCode)
}

func TestGetOperation_InvalidParams(t *testing.T) {
	env := newAPIEnv(t)
	code, body := env.do(t, nil, http.MethodGet, "/api/v1/operations/0xZZ", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), `invalid parameter \"id\"`)

	code, _ = env.do(t, nil, http.MethodGet, "/api/v1/operations/0x0102", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, nil, http.MethodGet, "/api/v1/operations/"+strings.Repeat("AB", 32), nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, nil, http.MethodGet, "/api/v1/blocks/abc/operations", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, nil, http.MethodGet, "/api/v1/nothing-here", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestGetOperation_Cbor(t *testing.T) {
	env := newAPIEnv(t)
	user, _, _ := testsig.CreateAccount(t)
	id := env.submit(t, user, 150)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/operations/"+id.String(), nil)
	require.NoError(t, err)
	req.Header.Set("Accept", applicationCBOR)
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, applicationCBOR, rsp.Header.Get(headerContentType))

	op := &types.Operation{}
	require.NoError(t, types.Cbor.Decode(rsp.Body, op))
	require.Equal(t, id, op.ID)
}

func TestValidators(t *testing.T) {
	env := newAPIEnv(t)
	signer, id := env.registerValidator(t)
	other, otherID := env.registerValidator(t)
	path := "/api/v1/validators/" + id.String()

	// registering the same key twice
	code, _ := env.do(t, signer, http.MethodPost, "/api/v1/validators", &RegisterValidatorRequest{Stake: "1000"})
	require.Equal(t, http.StatusConflict, code)

	stranger, _, _ := testsig.CreateAccount(t)
	code, _ = env.do(t, stranger, http.MethodPost, "/api/v1/validators", &RegisterValidatorRequest{Stake: "0"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = env.do(t, stranger, http.MethodPost, "/api/v1/validators", &RegisterValidatorRequest{Stake: "lots"})
	require.Equal(t, http.StatusBadRequest, code)

	var list []*ValidatorResponse
	code, body := env.do(t, nil, http.MethodGet, "/api/v1/validators", nil)
	env.decode(t, code, http.StatusOK, body, &list)
	require.Len(t, list, 2)

	v := &ValidatorResponse{}
	code, body = env.do(t, signer, http.MethodPut, path+"/status", &UpdateValidatorStatusRequest{Status: types.ValidatorOffline})
	env.decode(t, code, http.StatusOK, body, v)
	require.Equal(t, types.ValidatorOffline, v.Status)

	code, body = env.do(t, nil, http.MethodGet, path, nil)
	env.decode(t, code, http.StatusOK, body, v)
	require.Equal(t, types.ValidatorOffline, v.Status)
	require.Contains(t, string(body), `"status":"offline"`)

	// only the validator itself can change its record
	code, _ = env.do(t, other, http.MethodPut, path+"/status", &UpdateValidatorStatusRequest{Status: types.ValidatorLeaving})
	require.Equal(t, http.StatusForbidden, code)
	code, _ = env.do(t, other, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, _ = env.do(t, signer, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = env.do(t, nil, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, code)

	ok, err := env.node.IsValidator(context.Background(), otherID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.metrics.SetBlockHeight(env.height.Get())
	code, _ := env.do(t, nil, http.MethodGet, "/api/v1/blocks/latest", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(t, nil, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "qv_ledger_block_height 100")
	require.Contains(t, string(body), fmt.Sprintf(`qv_rest_api_calls_total{code="200",route="%s"} 1`, "/api/v1/blocks/latest"))
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusOK, StatusCode(nil))
	require.Equal(t, http.StatusUnauthorized, StatusCode(jam.ErrMissingCaller))
	require.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("wrapped: %w", jam.ErrNotFound)))
	require.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("disk on fire")))
	require.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(&http.MaxBytesError{Limit: 1}))
	require.Equal(t, http.StatusConflict, StatusCode(fmt.Errorf("%w: slashed to active", validators.ErrStatusTransition)))
	require.Equal(t, http.StatusConflict, StatusCode(validators.ErrValidatorSlashed))
	require.Equal(t, http.StatusGone, StatusCode(operations.ErrOperationExpired))
}
