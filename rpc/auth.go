package rpc

import (
	gocrypto "crypto"
	"fmt"
	"io"
	"net/http"

	"github.com/matrix-magiq/qvalidator/crypto"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/util"
)

// RequestDigest returns the hash signed by the caller of the signed request.
func RequestDigest(hashAlgorithm gocrypto.Hash, method, path string, body []byte) []byte {
	return util.Sum(hashAlgorithm, []byte(method), []byte(path), body)
}

// SignRequest sets the authentication headers of the request.
func SignRequest(req *http.Request, signer crypto.Signer, hashAlgorithm gocrypto.Hash, body []byte) error {
	verifier, err := signer.Verifier()
	if err != nil {
		return err
	}
	pubKey, err := verifier.MarshalPublicKey()
	if err != nil {
		return err
	}
	sig, err := signer.SignBytes(RequestDigest(hashAlgorithm, req.Method, req.URL.Path, body))
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	req.Header.Set(headerPublicKey, types.Bytes(pubKey).String())
	req.Header.Set(headerSignature, types.Bytes(sig).String())
	return nil
}

type caller struct {
	id     types.AccountID
	pubKey []byte
	body   []byte
}

// authenticate reads the request body and verifies the signature of the
// request made with the key in the X-Public-Key header.
func authenticate(r *http.Request, hashAlgorithm gocrypto.Hash) (*caller, error) {
	pubKey, err := types.DecodeHex(r.Header.Get(headerPublicKey))
	if err != nil || len(pubKey) == 0 {
		return nil, fmt.Errorf("%w: missing or invalid %s header", errUnauthorized, headerPublicKey)
	}
	sig, err := types.DecodeHex(r.Header.Get(headerSignature))
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: missing or invalid %s header", errUnauthorized, headerSignature)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	verifier, err := crypto.NewVerifierSecp256k1(pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	if err := verifier.VerifyBytes(sig, RequestDigest(hashAlgorithm, r.Method, r.URL.Path, body)); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	return &caller{
		id:     crypto.AccountIDFromPublicKey(pubKey, hashAlgorithm),
		pubKey: pubKey,
		body:   body,
	}, nil
}
