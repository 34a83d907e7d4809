package webhook

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","amount_total":99700}}}`)

func newTestVerifier(secret string, tolerance int, now time.Time) *Verifier {
	v := NewVerifier(secret, tolerance)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	event, err := v.Verify(testBody, SignPayload(testSecret, now, testBody))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, domain.EventCheckoutSessionCompleted, event.Type)
	assert.JSONEq(t, `{"id":"cs_1","amount_total":99700}`, string(event.Payload))
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	_, err := v.Verify(testBody, SignPayload("whsec_other", now, testBody))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedBody(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	header := SignPayload(testSecret, now, testBody)
	tampered := append([]byte{}, testBody...)
	tampered[len(tampered)-2] = '0'

	_, err := v.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_ExpiredTimestamp(t *testing.T) {
	// 20 minutes old with a 5 minute tolerance.
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	_, err := v.Verify(testBody, SignPayload(testSecret, now.Add(-20*time.Minute), testBody))
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	_, err := v.Verify(testBody, SignPayload(testSecret, now.Add(20*time.Minute), testBody))
	assert.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerify_MissingSecret(t *testing.T) {
	v := newTestVerifier("", 300, time.Now())

	_, err := v.Verify(testBody, SignPayload(testSecret, time.Now(), testBody))
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_MalformedHeader(t *testing.T) {
	v := newTestVerifier(testSecret, 300, time.Now())

	cases := []string{
		"",
		"garbage",
		"t=notanumber,v1=deadbeef",
		"v1=" + strings.Repeat("a", 64), // no timestamp
		"t=1700000000",                  // no signature
		"t=1700000000,v1=tooshort",
	}
	for _, header := range cases {
		_, err := v.Verify(testBody, header)
		assert.ErrorIs(t, err, ErrMalformedHeader, "header %q", header)
	}
}

func TestVerify_SecondSignatureAccepted(t *testing.T) {
	// During secret rolls the header carries one v1 entry per secret.
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	stale := SignPayload("whsec_old", now, testBody)
	valid := SignPayload(testSecret, now, testBody)
	header := fmt.Sprintf("%s,v1=%s", stale, valid[len(fmt.Sprintf("t=%d,v1=", now.Unix())):])

	event, err := v.Verify(testBody, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
}

func TestVerify_MalformedEnvelope(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(testSecret, 300, now)

	body := []byte(`{"type":"checkout.session.completed"}`) // no id
	_, err := v.Verify(body, SignPayload(testSecret, now, body))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	body = []byte(`not json`)
	_, err = v.Verify(body, SignPayload(testSecret, now, body))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
