package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrWebhookNotConfigured возвращается, если не задан секрет подписи вебхуков.
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
	// ErrInvalidSignature возвращается при отсутствующей или неверной подписи.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Event содержит проверенное событие провайдера.
type Event struct {
	ID      string
	Type    string
	Account string
	Created time.Time
	Object  json.RawMessage
}

// WebhookVerifier проверяет подпись тела вебхука общим секретом.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier создаёт проверяющего с указанным секретом.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Verify проверяет подпись и разбирает событие. Тело должно быть исходным, без перекодирования.
func (v *WebhookVerifier) Verify(payload []byte, signature string) (*Event, error) {
	if v == nil || v.secret == "" {
		return nil, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrInvalidSignature
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:      ev.ID,
		Type:    string(ev.Type),
		Account: ev.Account,
	}
	if ev.Created > 0 {
		out.Created = time.Unix(ev.Created, 0).UTC()
	}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}

	return out, nil
}
