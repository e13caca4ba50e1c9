// Package service реализует бизнес-логику платёжного ядра витрины.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/apperr"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/fee"
	"github.com/mmeshcher/storefront-payments/internal/ledger"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/payment"
	"github.com/mmeshcher/storefront-payments/internal/repository"
)

// Repository описывает контракт доступа к данным магазина, используемый сервисом.
type Repository interface {
	Close() error
	GetStore(ctx context.Context, storeID string) (*model.Store, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, storeID, orderID string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, storeID, orderID string, status model.OrderStatus) error
	AttachCheckoutSession(ctx context.Context, storeID, orderID, sessionID string, econ *model.ShippingEconomics) error
	MarkOrderPaid(ctx context.Context, storeID, orderID, sessionID, paymentIntentID string) (bool, error)
	UpsertMembership(ctx context.Context, m model.Membership) error
	GetMembership(ctx context.Context, storeID, userID string) (*model.Membership, error)
}

// PaymentProvider описывает операции платёжного провайдера.
type PaymentProvider interface {
	VerifyAccount(ctx context.Context, accountID string) error
	CreateCheckoutSession(ctx context.Context, in payment.SessionParams) (*payment.Session, error)
	GetSubscription(ctx context.Context, id, accountID string) (*payment.Subscription, error)
	GetPriceAmount(ctx context.Context, priceID, accountID string) (int64, error)
}

// ShippingRates возвращает тариф доставки по идентификатору.
type ShippingRates interface {
	GetRate(ctx context.Context, rateID string) (*model.ShippingRate, error)
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// FeeRecorder записывает рассчитанные комиссии.
type FeeRecorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Option настраивает Service.
type Option func(*Service)

// WithPublisher включает публикацию доменных событий.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithFeeRecorder включает журнал комиссий.
func WithFeeRecorder(r FeeRecorder) Option {
	return func(s *Service) { s.fees = r }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultCurrency задаёт валюту расчётов для магазинов без настроенной валюты.
func WithDefaultCurrency(currency string) Option {
	return func(s *Service) {
		if c, ok := normalizeCurrency(currency); ok {
			s.defaultCurrency = c
		}
	}
}

// Service содержит бизнес-логику платёжного ядра.
type Service struct {
	repo     Repository
	payments PaymentProvider
	shipping ShippingRates
	policy   fee.Policy
	logger   *zap.Logger

	publisher       Publisher
	fees            FeeRecorder
	now             func() time.Time
	defaultCurrency string
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, payments PaymentProvider, shipping ShippingRates, policy fee.Policy, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:            repo,
		payments:        payments,
		shipping:        shipping,
		policy:          policy,
		logger:          logger,
		now:             time.Now,
		defaultCurrency: "usd",
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// publish отправляет событие, если публикация включена. Ошибка только логируется.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", e.Type),
			zap.String("store_id", e.StoreID),
			zap.Error(err),
		)
	}
}

// loadStore читает магазин и переводит ошибки хранилища в виды ошибок.
func (s *Service) loadStore(ctx context.Context, storeID string) (*model.Store, error) {
	store, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, repository.ErrStoreNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "Store not found.", err)
		}
		return nil, apperr.Wrap(apperr.Internal, "Unable to load store.", err)
	}
	return store, nil
}

// requireStoreMember проверяет, что вызывающий аутентифицирован и привязан к магазину.
func requireStoreMember(identity model.Identity, storeID string) error {
	if !identity.Authenticated() {
		return apperr.New(apperr.Unauthenticated, "Authentication required.")
	}
	if identity.StoreID != storeID {
		return apperr.New(apperr.PermissionDenied, "User does not belong to this store.")
	}
	return nil
}

// normalizeCurrency принимает трёхбуквенный код валюты в любом регистре.
func normalizeCurrency(raw string) (string, bool) {
	c := strings.TrimSpace(raw)
	if len(c) != 3 {
		return "", false
	}
	for _, r := range c {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return "", false
		}
	}
	return strings.ToLower(c), true
}

// settlementCurrency возвращает валюту расчётов магазина.
func (s *Service) settlementCurrency(store *model.Store) string {
	if c, ok := normalizeCurrency(store.Shipping.Currency); ok {
		return c
	}
	if c, ok := normalizeCurrency(store.Currency); ok {
		return c
	}
	return s.defaultCurrency
}

// providerDetails собирает диагностику ошибки провайдера для операторов.
func providerDetails(accountID string, err error) apperr.Details {
	d := apperr.Details{"stripeAccountId": accountID}
	var pe *payment.ProviderError
	if errors.As(err, &pe) {
		d["statusCode"] = pe.StatusCode
		d["stripeType"] = pe.Type
		d["stripeCode"] = pe.Code
		d["stripeMessage"] = pe.Message
	}
	return d
}

// isProviderNotFound сообщает, что провайдер ответил 404.
func isProviderNotFound(err error) bool {
	var pe *payment.ProviderError
	return errors.As(err, &pe) && pe.NotFound()
}
