package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/repository"
)

// Типы событий провайдера, которые обрабатывает сверка.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventInvoicePaid           = "invoice.paid"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	defaultSubscriptionPlan    = "subscription"
	paymentStatusPaid          = "paid"
	paymentStatusNotApplicable = "no_payment_required"
)

// Outcome описывает результат обработки события.
type Outcome string

const (
	// OutcomeApplied: событие изменило состояние.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored: событие принято, но не требует изменений.
	OutcomeIgnored Outcome = "ignored"
)

// expandableID принимает как строковый идентификатор, так и развёрнутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*e = ""
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	PaymentIntent     expandableID      `json:"payment_intent"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

type subscriptionObject struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// ReconcileEvent применяет проверенное событие провайдера к членствам и заказам.
// Событие без магазина или пользователя принимается и игнорируется.
// Ошибка означает, что провайдер должен доставить событие повторно.
func (s *Service) ReconcileEvent(ctx context.Context, ev payment.Event) (Outcome, error) {
	now := ev.Created
	if now.IsZero() {
		now = s.now().UTC()
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return s.reconcileCheckoutCompleted(ctx, ev, now)
	case EventInvoicePaid:
		return s.reconcileInvoice(ctx, ev, model.MembershipActive, now)
	case EventInvoicePaymentFailed:
		return s.reconcileInvoice(ctx, ev, model.MembershipPastDue, now)
	case EventSubscriptionDeleted:
		return s.reconcileSubscriptionDeleted(ctx, ev, now)
	}

	s.logger.Debug("unhandled webhook event type",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
	)
	return OutcomeIgnored, nil
}

func (s *Service) reconcileCheckoutCompleted(ctx context.Context, ev payment.Event, now time.Time) (Outcome, error) {
	var session checkoutSessionObject
	if err := json.Unmarshal(ev.Object, &session); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}

	storeID := strings.TrimSpace(session.Metadata[metadataStoreID])
	userID := strings.TrimSpace(session.Metadata[metadataUserID])
	if userID == "" {
		userID = strings.TrimSpace(session.ClientReferenceID)
	}
	planType := strings.TrimSpace(session.Metadata[metadataPlanType])
	orderID := strings.TrimSpace(session.Metadata[metadataOrderID])

	if storeID == "" {
		s.ignore(ev, "missing storeId metadata")
		return OutcomeIgnored, nil
	}
	if ok, err := s.accountOwnsStore(ctx, ev, storeID); err != nil || !ok {
		return OutcomeIgnored, err
	}

	outcome := OutcomeIgnored

	paid := session.PaymentStatus == paymentStatusPaid || session.PaymentStatus == paymentStatusNotApplicable
	if orderID != "" && !paid {
		s.ignore(ev, "order "+orderID+" not paid, payment_status "+session.PaymentStatus)
	}
	if orderID != "" && paid {
		updated, err := s.repo.MarkOrderPaid(ctx, storeID, orderID, session.ID, string(session.PaymentIntent))
		if err != nil {
			return "", err
		}
		if updated {
			outcome = OutcomeApplied
			e := events.New(events.TypeOrderPaid, storeID, now)
			e.OrderID = orderID
			e.UserID = userID
			e.Data = map[string]any{"sessionId": session.ID}
			s.publish(ctx, e)
		}
	}

	if planType == "" {
		if orderID == "" {
			s.ignore(ev, "missing planType and orderId metadata")
		}
		return outcome, nil
	}
	if userID == "" {
		s.ignore(ev, "missing userId metadata")
		return outcome, nil
	}

	m := model.Membership{
		StoreID:          storeID,
		UserID:           userID,
		Status:           model.MembershipActive,
		PlanType:         planType,
		StripeCustomerID: string(session.Customer),
		LastEventID:      ev.ID,
	}

	switch session.Mode {
	case string(model.ModeSubscription):
		if session.Subscription == "" {
			s.ignore(ev, "subscription checkout without subscription id")
			return outcome, nil
		}
		sub, err := s.payments.GetSubscription(ctx, string(session.Subscription), ev.Account)
		if err != nil {
			return "", fmt.Errorf("get subscription %s: %w", session.Subscription, err)
		}
		m.AccessType = model.AccessSubscription
		m.AccessEnd = sub.CurrentPeriodEnd
		m.StripeSubscriptionID = sub.ID
	case string(model.ModePayment):
		m.AccessType = model.AccessLifetime
	default:
		s.ignore(ev, "unsupported checkout mode "+session.Mode)
		return outcome, nil
	}

	if err := s.applyMembership(ctx, m, now); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (s *Service) reconcileInvoice(ctx context.Context, ev payment.Event, status model.MembershipStatus, now time.Time) (Outcome, error) {
	var invoice invoiceObject
	if err := json.Unmarshal(ev.Object, &invoice); err != nil {
		return "", fmt.Errorf("decode invoice: %w", err)
	}

	subID := invoice.subscriptionID()
	if subID == "" {
		s.ignore(ev, "invoice without subscription")
		return OutcomeIgnored, nil
	}

	sub, err := s.payments.GetSubscription(ctx, subID, ev.Account)
	if err != nil {
		return "", fmt.Errorf("get subscription %s: %w", subID, err)
	}

	storeID := strings.TrimSpace(sub.Metadata[metadataStoreID])
	userID := strings.TrimSpace(sub.Metadata[metadataUserID])
	if storeID == "" || userID == "" {
		s.ignore(ev, "subscription metadata missing storeId or userId")
		return OutcomeIgnored, nil
	}
	if ok, err := s.accountOwnsStore(ctx, ev, storeID); err != nil || !ok {
		return OutcomeIgnored, err
	}

	accessEnd := sub.CurrentPeriodEnd
	if accessEnd == nil && status == model.MembershipPastDue {
		t := now
		accessEnd = &t
	}

	m := model.Membership{
		StoreID:              storeID,
		UserID:               userID,
		AccessType:           model.AccessSubscription,
		Status:               status,
		AccessEnd:            accessEnd,
		PlanType:             planOrDefault(sub.Metadata[metadataPlanType]),
		StripeCustomerID:     sub.CustomerID,
		StripeSubscriptionID: sub.ID,
		LastEventID:          ev.ID,
	}
	if err := s.applyMembership(ctx, m, now); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (s *Service) reconcileSubscriptionDeleted(ctx context.Context, ev payment.Event, now time.Time) (Outcome, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(ev.Object, &sub); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}

	storeID := strings.TrimSpace(sub.Metadata[metadataStoreID])
	userID := strings.TrimSpace(sub.Metadata[metadataUserID])
	if storeID == "" || userID == "" {
		s.ignore(ev, "subscription metadata missing storeId or userId")
		return OutcomeIgnored, nil
	}
	if ok, err := s.accountOwnsStore(ctx, ev, storeID); err != nil || !ok {
		return OutcomeIgnored, err
	}

	end := now
	m := model.Membership{
		StoreID:              storeID,
		UserID:               userID,
		AccessType:           model.AccessSubscription,
		Status:               model.MembershipCanceled,
		AccessEnd:            &end,
		PlanType:             planOrDefault(sub.Metadata[metadataPlanType]),
		StripeCustomerID:     string(sub.Customer),
		StripeSubscriptionID: sub.ID,
		LastEventID:          ev.ID,
	}
	if err := s.applyMembership(ctx, m, now); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// accountOwnsStore проверяет, что событие пришло из подключённого аккаунта магазина.
// События аккаунта платформы (Account пуст) принимаются.
func (s *Service) accountOwnsStore(ctx context.Context, ev payment.Event, storeID string) (bool, error) {
	if ev.Account == "" {
		return true, nil
	}

	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			s.ignore(ev, "unknown store "+storeID)
			return false, nil
		}
		return false, fmt.Errorf("get store %s: %w", storeID, err)
	}

	if strings.TrimSpace(store.ConnectedAccountID) != ev.Account {
		s.ignore(ev, "account does not match store")
		return false, nil
	}
	return true, nil
}

func (s *Service) applyMembership(ctx context.Context, m model.Membership, now time.Time) error {
	if err := s.repo.UpsertMembership(ctx, m); err != nil {
		return err
	}

	e := events.New(events.TypeMembershipUpdated, m.StoreID, now)
	e.UserID = m.UserID
	e.Data = map[string]any{
		"status":     string(m.Status),
		"accessType": string(m.AccessType),
		"planType":   m.PlanType,
	}
	if m.AccessEnd != nil {
		e.Data["accessEnd"] = m.AccessEnd.UTC()
	}
	s.publish(ctx, e)

	return nil
}

func (s *Service) ignore(ev payment.Event, reason string) {
	s.logger.Info("webhook event ignored",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("account", ev.Account),
		zap.String("reason", reason),
	)
}

func planOrDefault(planType string) string {
	if p := strings.TrimSpace(planType); p != "" {
		return p
	}
	return defaultSubscriptionPlan
}
