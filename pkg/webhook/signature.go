// Package webhook verifies inbound webhooks signed with the svix scheme used
// by hosted identity providers.
//
// The signed content is "{msg_id}.{timestamp}.{body}", MACed with HMAC-SHA256
// under the base64-decoded secret (after the "whsec_" prefix). The signature
// header carries one or more space-separated "v1,<base64>" entries, any of
// which may match.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"

	secretPrefix     = "whsec_"
	signatureVersion = "v1"

	// DefaultTolerance is the accepted distance between the signed timestamp and now.
	DefaultTolerance = 5 * time.Minute
)

var (
	ErrInvalidSecret       = errors.New("invalid webhook secret")
	ErrMissingHeaders      = errors.New("missing webhook signature headers")
	ErrInvalidTimestamp    = errors.New("invalid webhook timestamp")
	ErrTimestampOutOfRange = errors.New("webhook timestamp outside tolerance")
	ErrInvalidSignature    = errors.New("webhook signature mismatch")
)

// Headers are the svix delivery headers.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// HeadersFrom reads svix headers from an HTTP header set.
func HeadersFrom(h http.Header) Headers {
	return Headers{
		ID:        h.Get(HeaderID),
		Timestamp: h.Get(HeaderTimestamp),
		Signature: h.Get(HeaderSignature),
	}
}

// Complete reports whether all three headers are present.
func (h Headers) Complete() bool {
	return h.ID != "" && h.Timestamp != "" && h.Signature != ""
}

// Verifier checks svix signatures for a single endpoint secret.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance overrides DefaultTolerance. Zero disables the timestamp check.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.tolerance = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier decodes secret, accepting it with or without the "whsec_" prefix.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil || len(key) == 0 {
		return nil, errors.Join(ErrInvalidSecret, err)
	}

	v := &Verifier{key: key, tolerance: DefaultTolerance, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify returns nil when payload carries a valid signature for h.
func (v *Verifier) Verify(payload []byte, h Headers) error {
	if !h.Complete() {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, h.Timestamp)
	}
	if v.tolerance > 0 {
		skew := v.now().Sub(time.Unix(ts, 0))
		if skew > v.tolerance || skew < -v.tolerance {
			return ErrTimestampOutOfRange
		}
	}

	expected := v.sign(h.ID, ts, payload)
	for _, entry := range strings.Fields(h.Signature) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign produces a "v1,<sig>" header value. Useful for tests and local replay tools.
func (v *Verifier) Sign(id string, ts time.Time, payload []byte) string {
	return signatureVersion + "," + v.sign(id, ts.Unix(), payload)
}

func (v *Verifier) sign(id string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
