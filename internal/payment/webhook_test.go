package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test"

var testPayload = []byte(`{
  "id": "evt_1",
  "object": "event",
  "type": "invoice.paid",
  "created": 1767225600,
  "account": "acct_123",
  "data": {"object": {"id": "in_1", "object": "invoice", "subscription": "sub_1"}}
}`)

func TestVerify_ValidSignature(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: testPayload,
		Secret:  testSecret,
	})

	ev, err := NewWebhookVerifier(testSecret).Verify(signed.Payload, signed.Header)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "invoice.paid", ev.Type)
	assert.Equal(t, "acct_123", ev.Account)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), ev.Created)
	assert.JSONEq(t, `{"id":"in_1","object":"invoice","subscription":"sub_1"}`, string(ev.Object))
}

func TestVerify_WrongSecret(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: testPayload,
		Secret:  "whsec_other",
	})

	_, err := NewWebhookVerifier(testSecret).Verify(signed.Payload, signed.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedBody(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: testPayload,
		Secret:  testSecret,
	})

	tampered := append([]byte{}, signed.Payload...)
	tampered[len(tampered)-2] = ' '

	_, err := NewWebhookVerifier(testSecret).Verify(tampered, signed.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_MissingConfiguration(t *testing.T) {
	_, err := NewWebhookVerifier("").Verify(testPayload, "t=1,v1=abc")
	require.ErrorIs(t, err, ErrWebhookNotConfigured)

	_, err = NewWebhookVerifier(testSecret).Verify(testPayload, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProviderError(t *testing.T) {
	base := errors.New("boom")
	err := &ProviderError{StatusCode: 404, Type: "invalid_request_error", Code: "resource_missing", Message: "No such account", Err: base}

	assert.True(t, err.NotFound())
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "No such account")
}
