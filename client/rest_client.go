package client

import (
	"bytes"
	"context"
	gocrypto "crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/jam"
	"github.com/matrix-magiq/qvalidator/rpc"
	"github.com/matrix-magiq/qvalidator/types"
)

const (
	OperationsPath = "api/v1/operations"
	BlocksPath     = "api/v1/blocks"
	ValidatorsPath = "api/v1/validators"
	EventsPath     = "api/v1/events"

	defaultScheme   = "http://"
	contentType     = "Content-Type"
	applicationJson = "application/json"
)

var ErrNotFound = errors.New("not found")

type (
	// ResponseError is returned when the node responds with non success status code.
	ResponseError struct {
		StatusCode int
		Message    string
	}

	// QValidatorClient is a client of the node REST API. Calls which change
	// the state of the node are signed with the Signer.
	QValidatorClient struct {
		BaseUrl       *url.URL
		HttpClient    http.Client
		Signer        crypto.Signer
		HashAlgorithm gocrypto.Hash

		operationsURL *url.URL
		blocksURL     *url.URL
		validatorsURL *url.URL
		eventsURL     *url.URL
	}

	// Event is an event received from the node's event stream, Event holds
	// the JSON encoding of the kind specific fields.
	Event struct {
		Kind    events.Kind     `json:"kind"`
		Message string          `json:"message"`
		Event   json.RawMessage `json:"event"`
	}
)

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unexpected response status code %d: %s", e.StatusCode, e.Message)
}

func (e *ResponseError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func New(baseUrl string, signer crypto.Signer) (*QValidatorClient, error) {
	if !strings.HasPrefix(baseUrl, "http://") && !strings.HasPrefix(baseUrl, "https://") {
		baseUrl = defaultScheme + baseUrl
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("error parsing node API base URL (%s): %w", baseUrl, err)
	}
	return &QValidatorClient{
		BaseUrl:       u,
		HttpClient:    http.Client{Timeout: time.Minute},
		Signer:        signer,
		HashAlgorithm: types.DefaultHashAlgorithm,
		operationsURL: u.JoinPath(OperationsPath),
		blocksURL:     u.JoinPath(BlocksPath),
		validatorsURL: u.JoinPath(ValidatorsPath),
		eventsURL:     u.JoinPath(EventsPath),
	}, nil
}

func (c *QValidatorClient) SubmitOperation(ctx context.Context, req *rpc.SubmitOperationRequest) (types.OperationID, error) {
	rsp := &rpc.SubmitOperationResponse{}
	if err := c.signed(ctx, http.MethodPost, c.operationsURL, req, rsp); err != nil {
		return nil, fmt.Errorf("submit operation: %w", err)
	}
	return rsp.OperationID, nil
}

func (c *QValidatorClient) CastVote(ctx context.Context, id types.OperationID, vote types.Vote, proof *types.JamProof) (*jam.VoteReceipt, error) {
	rsp := &jam.VoteReceipt{}
	req := &rpc.CastVoteRequest{Vote: vote, Proof: proof}
	if err := c.signed(ctx, http.MethodPost, c.operationsURL.JoinPath(id.String(), "votes"), req, rsp); err != nil {
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	return rsp, nil
}

func (c *QValidatorClient) GetOperation(ctx context.Context, id types.OperationID) (*types.Operation, error) {
	op := &types.Operation{}
	if err := c.get(ctx, c.operationsURL.JoinPath(id.String()), op); err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns summaries of the operations in one of the statuses,
// of all operations when no status given.
func (c *QValidatorClient) ListOperations(ctx context.Context, statuses ...types.OperationStatus) ([]*rpc.OperationSummary, error) {
	u := *c.operationsURL
	q := u.Query()
	for _, s := range statuses {
		q.Add("status", s.String())
	}
	u.RawQuery = q.Encode()
	var rsp []*rpc.OperationSummary
	if err := c.get(ctx, &u, &rsp); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return rsp, nil
}

func (c *QValidatorClient) GetOperationStatus(ctx context.Context, id types.OperationID) (types.OperationStatus, error) {
	rsp := &rpc.OperationStatusResponse{}
	if err := c.get(ctx, c.operationsURL.JoinPath(id.String(), "status"), rsp); err != nil {
		return 0, fmt.Errorf("get operation status: %w", err)
	}
	return rsp.Status, nil
}

func (c *QValidatorClient) GetOperationProof(ctx context.Context, id types.OperationID) (*types.JamProof, error) {
	proof := &types.JamProof{}
	if err := c.get(ctx, c.operationsURL.JoinPath(id.String(), "proof"), proof); err != nil {
		return nil, fmt.Errorf("get operation proof: %w", err)
	}
	return proof, nil
}

func (c *QValidatorClient) GetValidationResult(ctx context.Context, id types.OperationID) (*types.ValidationResult, error) {
	res := &types.ValidationResult{}
	if err := c.get(ctx, c.operationsURL.JoinPath(id.String(), "result"), res); err != nil {
		return nil, fmt.Errorf("get validation result: %w", err)
	}
	return res, nil
}

func (c *QValidatorClient) GetAttestations(ctx context.Context, id types.OperationID) ([]*types.Attestation, error) {
	var atts []*types.Attestation
	if err := c.get(ctx, c.operationsURL.JoinPath(id.String(), "attestations"), &atts); err != nil {
		return nil, fmt.Errorf("get attestations: %w", err)
	}
	return atts, nil
}

func (c *QValidatorClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	rsp := &rpc.BlockResponse{}
	if err := c.get(ctx, c.blocksURL.JoinPath("latest"), rsp); err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	return rsp.Number, nil
}

func (c *QValidatorClient) GetBlockOperations(ctx context.Context, blockNumber uint64) ([]types.OperationID, error) {
	rsp := &rpc.BlockResponse{}
	if err := c.get(ctx, c.blocksURL.JoinPath(strconv.FormatUint(blockNumber, 10), "operations"), rsp); err != nil {
		return nil, fmt.Errorf("get block operations: %w", err)
	}
	return rsp.Operations, nil
}

// RegisterValidator registers the key of the Signer as validator.
func (c *QValidatorClient) RegisterValidator(ctx context.Context, stake string, keyType types.KeyType) (*rpc.ValidatorResponse, error) {
	rsp := &rpc.ValidatorResponse{}
	req := &rpc.RegisterValidatorRequest{Stake: stake, KeyType: keyType}
	if err := c.signed(ctx, http.MethodPost, c.validatorsURL, req, rsp); err != nil {
		return nil, fmt.Errorf("register validator: %w", err)
	}
	return rsp, nil
}

func (c *QValidatorClient) RemoveValidator(ctx context.Context, id types.AccountID) error {
	if err := c.signed(ctx, http.MethodDelete, c.validatorsURL.JoinPath(id.String()), nil, nil); err != nil {
		return fmt.Errorf("remove validator: %w", err)
	}
	return nil
}

func (c *QValidatorClient) UpdateValidatorStatus(ctx context.Context, id types.AccountID, status types.ValidatorStatus) (*rpc.ValidatorResponse, error) {
	rsp := &rpc.ValidatorResponse{}
	req := &rpc.UpdateValidatorStatusRequest{Status: status}
	if err := c.signed(ctx, http.MethodPut, c.validatorsURL.JoinPath(id.String(), "status"), req, rsp); err != nil {
		return nil, fmt.Errorf("update validator status: %w", err)
	}
	return rsp, nil
}

// SlashValidator slashes the validator, the Signer must be an admin of the node.
func (c *QValidatorClient) SlashValidator(ctx context.Context, id types.AccountID) (*rpc.ValidatorResponse, error) {
	rsp := &rpc.ValidatorResponse{}
	if err := c.signed(ctx, http.MethodPost, c.validatorsURL.JoinPath(id.String(), "slash"), nil, rsp); err != nil {
		return nil, fmt.Errorf("slash validator: %w", err)
	}
	return rsp, nil
}

// WatchEvents calls fn for every event of the given kinds (all kinds when
// none given) until ctx is cancelled, the node closes the stream or fn
// returns an error. The client's timeout does not apply to the stream.
func (c *QValidatorClient) WatchEvents(ctx context.Context, fn func(*Event) error, kinds ...events.Kind) error {
	u := *c.eventsURL
	q := u.Query()
	for _, k := range kinds {
		q.Add("kind", k.String())
	}
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	hc := c.HttpClient
	hc.Timeout = 0
	response, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("watch events: request failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(response.Body)
		return &ResponseError{StatusCode: response.StatusCode, Message: errorMessage(data)}
	}
	dec := json.NewDecoder(response.Body)
	for {
		e := &Event{}
		if err := dec.Decode(e); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch events: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (c *QValidatorClient) GetValidator(ctx context.Context, id types.AccountID) (*rpc.ValidatorResponse, error) {
	rsp := &rpc.ValidatorResponse{}
	if err := c.get(ctx, c.validatorsURL.JoinPath(id.String()), rsp); err != nil {
		return nil, fmt.Errorf("get validator: %w", err)
	}
	return rsp, nil
}

func (c *QValidatorClient) ListValidators(ctx context.Context) ([]*rpc.ValidatorResponse, error) {
	var rsp []*rpc.ValidatorResponse
	if err := c.get(ctx, c.validatorsURL, &rsp); err != nil {
		return nil, fmt.Errorf("list validators: %w", err)
	}
	return rsp, nil
}

func (c *QValidatorClient) get(ctx context.Context, u *url.URL, rsp any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, rsp)
}

func (c *QValidatorClient) signed(ctx context.Context, method string, u *url.URL, data, rsp any) error {
	if c.Signer == nil {
		return errors.New("signer is not set")
	}
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(contentType, applicationJson)
	if err := rpc.SignRequest(req, c.Signer, c.HashAlgorithm, body); err != nil {
		return err
	}
	return c.do(req, rsp)
}

func (c *QValidatorClient) do(req *http.Request, rsp any) error {
	response, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &ResponseError{StatusCode: response.StatusCode, Message: errorMessage(data)}
	}
	if rsp == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, rsp); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

func errorMessage(data []byte) string {
	er := &rpc.ErrorResponse{}
	if err := json.Unmarshal(data, er); err != nil || er.Message == "" {
		return strings.TrimSpace(string(data))
	}
	return er.Message
}
