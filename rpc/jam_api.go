package rpc

import (
	"bytes"
	"context"
	gocrypto "crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/matrix-magiq/qvalidator/jam"
	"github.com/matrix-magiq/qvalidator/types"
	"golang.org/x/exp/slices"
)

type (
	// Coordinator is the operation surface served by the API.
	Coordinator interface {
		SubmitOperation(ctx context.Context, initiator types.AccountID, targetChain uint32, kind types.OperationKind, payload []byte, expiresAt uint64) (types.OperationID, error)
		CastVote(ctx context.Context, validator types.AccountID, id types.OperationID, vote types.Vote, proof *types.JamProof) (*jam.VoteReceipt, error)
		GetOperation(ctx context.Context, id types.OperationID) (*types.Operation, error)
		GetOperationStatus(ctx context.Context, id types.OperationID) (types.OperationStatus, error)
		ListOperations(ctx context.Context) ([]*types.Operation, error)
		OperationProof(ctx context.Context, id types.OperationID) (*types.JamProof, error)
		GetValidationResult(ctx context.Context, id types.OperationID) (*types.ValidationResult, error)
		GetAttestations(ctx context.Context, id types.OperationID) ([]*types.Attestation, error)
		BlockOperations(ctx context.Context, blockNumber uint64) ([]types.OperationID, error)
		RegisterValidator(ctx context.Context, id types.AccountID, stake *uint256.Int, keyType types.KeyType, publicKey []byte) (*types.ValidatorState, error)
		RemoveValidator(ctx context.Context, id types.AccountID) error
		UpdateValidatorStatus(ctx context.Context, id types.AccountID, status types.ValidatorStatus) (*types.ValidatorState, error)
		SlashValidator(ctx context.Context, id types.AccountID) (*types.ValidatorState, error)
		GetValidator(ctx context.Context, id types.AccountID) (*types.ValidatorState, error)
		ListValidators(ctx context.Context) ([]*types.ValidatorState, error)
		BlockHeight() uint64
		HashAlgorithm() gocrypto.Hash
	}

	jamRestAPI struct {
		node Coordinator
		// accounts allowed to slash validators
		admins []types.AccountID
		rw     *ResponseWriter
	}

	SubmitOperationRequest struct {
		TargetChain uint32              `json:"target_chain"`
		Kind        types.OperationKind `json:"kind"`
		Payload     types.Bytes         `json:"payload"`
		ExpiresAt   uint64              `json:"expires_at"`
	}

	SubmitOperationResponse struct {
		OperationID types.OperationID `json:"operation_id"`
	}

	CastVoteRequest struct {
		Vote  types.Vote      `json:"vote"`
		Proof *types.JamProof `json:"proof,omitempty"`
	}

	OperationStatusResponse struct {
		OperationID types.OperationID     `json:"operation_id"`
		Status      types.OperationStatus `json:"status"`
	}

	OperationSummary struct {
		OperationID types.OperationID     `json:"operation_id"`
		Initiator   types.AccountID       `json:"initiator"`
		TargetChain uint32                `json:"target_chain"`
		Kind        types.OperationKind   `json:"kind"`
		Status      types.OperationStatus `json:"status"`
		CreatedAt   uint64                `json:"created_at"`
		ExpiresAt   uint64                `json:"expires_at"`
	}

	BlockResponse struct {
		Number     uint64              `json:"number"`
		Operations []types.OperationID `json:"operations,omitempty"`
	}

	RegisterValidatorRequest struct {
		// decimal
		Stake   string        `json:"stake"`
		KeyType types.KeyType `json:"key_type"`
	}

	UpdateValidatorStatusRequest struct {
		Status types.ValidatorStatus `json:"status"`
	}

	ValidatorResponse struct {
		AccountID    types.AccountID        `json:"account_id"`
		Stake        string                 `json:"stake"`
		Status       types.ValidatorStatus  `json:"status"`
		KeyType      types.KeyType          `json:"key_type"`
		PublicKey    types.Bytes            `json:"public_key"`
		Metrics      types.ValidatorMetrics `json:"metrics"`
		RegisteredAt uint64                 `json:"registered_at"`
		LastUpdate   uint64                 `json:"last_update"`
	}
)

// NewJamAPI returns registrar of the operation and validator endpoints.
// Only the admins may slash validators, slashing is disabled without admins.
func NewJamAPI(node Coordinator, admins ...types.AccountID) Registrar {
	api := &jamRestAPI{
		node:   node,
		admins: admins,
		rw:     &ResponseWriter{LogErr: func(err error) { log.Error("REST API: %v", err) }},
	}
	return RegistrarFunc(api.Register)
}

func (api *jamRestAPI) Register(r *mux.Router) {
	r.HandleFunc("/operations", api.submitOperation).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/operations", api.listOperations).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}", api.getOperation).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}/status", api.getOperationStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}/proof", api.getOperationProof).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}/result", api.getValidationResult).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}/attestations", api.getAttestations).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/operations/{id}/votes", api.castVote).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/blocks/latest", api.latestBlock).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/blocks/{number}/operations", api.blockOperations).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/validators", api.registerValidator).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/validators", api.listValidators).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validators/{id}", api.getValidator).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/validators/{id}", api.removeValidator).Methods(http.MethodDelete, http.MethodOptions)
	r.HandleFunc("/validators/{id}/status", api.updateValidatorStatus).Methods(http.MethodPut, http.MethodOptions)
	r.HandleFunc("/validators/{id}/slash", api.slashValidator).Methods(http.MethodPost, http.MethodOptions)
}

func (api *jamRestAPI) submitOperation(w http.ResponseWriter, r *http.Request) {
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	req := &SubmitOperationRequest{}
	if err := decodeJSON(c.body, req); err != nil {
		api.rw.ErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	id, err := api.node.SubmitOperation(r.Context(), c.id, req.TargetChain, req.Kind, req.Payload, req.ExpiresAt)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponseWithStatus(w, http.StatusCreated, &SubmitOperationResponse{OperationID: id})
}

func (api *jamRestAPI) castVote(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	req := &CastVoteRequest{}
	if err := decodeJSON(c.body, req); err != nil {
		api.rw.ErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := api.node.CastVote(r.Context(), c.id, id, req.Vote, req.Proof)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, receipt)
}

func (api *jamRestAPI) getOperation(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	op, err := api.node.GetOperation(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	if r.Header.Get("Accept") == applicationCBOR {
		api.rw.WriteCborResponse(w, op)
		return
	}
	api.rw.WriteResponse(w, op)
}

// listOperations returns summaries of all the operations, the "status" query
// parameter (repeatable) limits the list to the given statuses.
func (api *jamRestAPI) listOperations(w http.ResponseWriter, r *http.Request) {
	var statuses []types.OperationStatus
	for _, s := range r.URL.Query()["status"] {
		var status types.OperationStatus
		if err := status.UnmarshalText([]byte(s)); err != nil {
			api.rw.InvalidParamResponse(w, "status", err)
			return
		}
		statuses = append(statuses, status)
	}
	ops, err := api.node.ListOperations(r.Context())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	res := []*OperationSummary{}
	for _, op := range ops {
		if len(statuses) > 0 && !slices.Contains(statuses, op.Status) {
			continue
		}
		res = append(res, &OperationSummary{
			OperationID: op.ID,
			Initiator:   op.Initiator,
			TargetChain: op.TargetChain,
			Kind:        op.Kind,
			Status:      op.Status,
			CreatedAt:   op.CreatedAt,
			ExpiresAt:   op.ExpiresAt,
		})
	}
	api.rw.WriteResponse(w, res)
}

func (api *jamRestAPI) getOperationStatus(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	status, err := api.node.GetOperationStatus(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &OperationStatusResponse{OperationID: id, Status: status})
}

func (api *jamRestAPI) getOperationProof(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	proof, err := api.node.OperationProof(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, proof)
}

func (api *jamRestAPI) getValidationResult(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	res, err := api.node.GetValidationResult(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, res)
}

func (api *jamRestAPI) getAttestations(w http.ResponseWriter, r *http.Request) {
	id, err := api.operationID(r)
	if err != nil {
		api.rw.InvalidParamResponse(w, "id", err)
		return
	}
	atts, err := api.node.GetAttestations(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	if atts == nil {
		atts = []*types.Attestation{}
	}
	api.rw.WriteResponse(w, atts)
}

func (api *jamRestAPI) latestBlock(w http.ResponseWriter, r *http.Request) {
	api.rw.WriteResponse(w, &BlockResponse{Number: api.node.BlockHeight()})
}

func (api *jamRestAPI) blockOperations(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(r)["number"], 10, 64)
	if err != nil {
		api.rw.InvalidParamResponse(w, "number", err)
		return
	}
	ids, err := api.node.BlockOperations(r.Context(), n)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, &BlockResponse{Number: n, Operations: ids})
}

func (api *jamRestAPI) registerValidator(w http.ResponseWriter, r *http.Request) {
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	req := &RegisterValidatorRequest{}
	if err := decodeJSON(c.body, req); err != nil {
		api.rw.ErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	stake, err := types.ParseStake(req.Stake)
	if err != nil {
		api.rw.InvalidParamResponse(w, "stake", err)
		return
	}
	v, err := api.node.RegisterValidator(r.Context(), c.id, stake, req.KeyType, c.pubKey)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponseWithStatus(w, http.StatusCreated, newValidatorResponse(v))
}

func (api *jamRestAPI) removeValidator(w http.ResponseWriter, r *http.Request) {
	id := types.AccountID(mux.Vars(r)["id"])
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	if c.id != id {
		api.rw.WriteErrorResponse(w, fmt.Errorf("%w: validator can only remove itself", errForbidden))
		return
	}
	if err := api.node.RemoveValidator(r.Context(), id); err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *jamRestAPI) updateValidatorStatus(w http.ResponseWriter, r *http.Request) {
	id := types.AccountID(mux.Vars(r)["id"])
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	if c.id != id {
		api.rw.WriteErrorResponse(w, fmt.Errorf("%w: validator can only update itself", errForbidden))
		return
	}
	req := &UpdateValidatorStatusRequest{}
	if err := decodeJSON(c.body, req); err != nil {
		api.rw.ErrorResponse(w, http.StatusBadRequest, err)
		return
	}
	v, err := api.node.UpdateValidatorStatus(r.Context(), id, req.Status)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, newValidatorResponse(v))
}

func (api *jamRestAPI) slashValidator(w http.ResponseWriter, r *http.Request) {
	id := types.AccountID(mux.Vars(r)["id"])
	c, err := authenticate(r, api.node.HashAlgorithm())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	if !slices.Contains(api.admins, c.id) {
		api.rw.WriteErrorResponse(w, fmt.Errorf("%w: %s is not allowed to slash validators", errForbidden, c.id))
		return
	}
	v, err := api.node.SlashValidator(r.Context(), id)
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	log.Info("validator %s slashed by %s", id, c.id)
	api.rw.WriteResponse(w, newValidatorResponse(v))
}

func (api *jamRestAPI) getValidator(w http.ResponseWriter, r *http.Request) {
	v, err := api.node.GetValidator(r.Context(), types.AccountID(mux.Vars(r)["id"]))
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	api.rw.WriteResponse(w, newValidatorResponse(v))
}

func (api *jamRestAPI) listValidators(w http.ResponseWriter, r *http.Request) {
	list, err := api.node.ListValidators(r.Context())
	if err != nil {
		api.rw.WriteErrorResponse(w, err)
		return
	}
	res := make([]*ValidatorResponse, len(list))
	for i, v := range list {
		res[i] = newValidatorResponse(v)
	}
	api.rw.WriteResponse(w, res)
}

func (api *jamRestAPI) operationID(r *http.Request) (types.OperationID, error) {
	return types.ParseOperationID(mux.Vars(r)["id"], api.node.HashAlgorithm())
}

func newValidatorResponse(v *types.ValidatorState) *ValidatorResponse {
	stake := "0"
	if v.Stake != nil {
		stake = v.Stake.ToBig().String()
	}
	return &ValidatorResponse{
		AccountID:    v.AccountID,
		Stake:        stake,
		Status:       v.Status,
		KeyType:      v.KeyType,
		PublicKey:    v.PublicKey,
		Metrics:      v.Metrics,
		RegisteredAt: v.RegisteredAt,
		LastUpdate:   v.LastUpdate,
	}
}

func decodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}
