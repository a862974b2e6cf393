package gateway

import (
	"net/http"

	"github.com/mugisham37/cms-gateway/internal/signer"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// Headers for signed API key authentication.
const (
	// APIKeyHeader carries the gateway-issued key.
	APIKeyHeader = "X-Api-Key"

	// SignatureHeader carries the request signature.
	SignatureHeader = "X-Signature"

	// TimestampHeader carries the timestamp the signature covers.
	TimestampHeader = "X-Timestamp"
)

// APIKeyPrincipal returns a PrincipalFunc verifying signed API key
// requests. The signature covers the timestamp and the raw request body.
// Requests without a key header, with an unknown key, or with a bad
// signature yield no principal; routes that require auth then reject them.
func APIKeyPrincipal(sig *signer.Signer) PrincipalFunc {
	return func(r *http.Request, body []byte) *util.Principal {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			return nil
		}

		ok, err := sig.Verify(
			r.Context(),
			key,
			r.Header.Get(SignatureHeader),
			r.Header.Get(TimestampHeader),
			string(body),
		)
		if err != nil || !ok {
			return nil
		}

		return &util.Principal{ID: key}
	}
}
