package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront/internal/domain"
)

var (
	ErrMissingSecret     = errors.New("webhook signing secret is not configured")
	ErrMalformedHeader   = errors.New("signature header is malformed")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrSignatureExpired  = errors.New("signature timestamp outside allowed tolerance")
	ErrMalformedEnvelope = errors.New("event envelope is malformed")
)

// Verifier validates a raw webhook body against the provider signature
// header before the body is ever interpreted as JSON. Pure; no I/O.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, toleranceSeconds int) *Verifier {
	return &Verifier{
		secret:    secret,
		tolerance: time.Duration(toleranceSeconds) * time.Second,
		now:       time.Now,
	}
}

// envelope is the minimal provider event shape needed to build a domain
// event; data.object stays raw for the typed per-handler decoders.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Verify checks the `t=<unix>,v1=<hex hmac-sha256>` header over rawBody and
// returns the parsed event on success. The digest comparison is constant
// time; the embedded timestamp must be within the configured tolerance of
// the current clock (replay protection). A missing secret is a hard
// misconfiguration, never a silent pass.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) (*domain.Event, error) {
	if v.secret == "" {
		return nil, ErrMissingSecret
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, ErrSignatureExpired
	}

	expected := computeSignature(v.secret, timestamp, rawBody)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidSignature
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, ErrMalformedEnvelope
	}

	return &domain.Event{
		ID:         env.ID,
		Type:       domain.EventType(env.Type),
		Payload:    env.Data.Object,
		ReceivedAt: v.now().UTC(),
	}, nil
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]". More than
// one v1 entry is legal while the provider rolls signing secrets.
func parseSignatureHeader(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, ErrMalformedHeader
	}

	var timestamp int64
	var haveTimestamp bool
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			return 0, nil, ErrMalformedHeader
		}
		switch pair[0] {
		case "t":
			ts, err := strconv.ParseInt(pair[1], 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			timestamp = ts
			haveTimestamp = true
		case "v1":
			if len(pair[1]) != hex.EncodedLen(sha256.Size) {
				return 0, nil, ErrMalformedHeader
			}
			signatures = append(signatures, pair[1])
		default:
			// Unknown schemes are ignored for forward compatibility.
		}
	}

	if !haveTimestamp || len(signatures) == 0 {
		return 0, nil, ErrMalformedHeader
	}
	return timestamp, signatures, nil
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload produces a valid signature header for body at the given time.
// Used by tests and the manual redelivery tooling.
func SignPayload(secret string, at time.Time, body []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, body))
}
