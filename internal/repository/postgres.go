// Package repository содержит хранилище данных арендаторов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStoreNotFound возвращается, если магазин не найден.
var (
	ErrStoreNotFound = errors.New("store not found")
	// ErrOrderNotFound возвращается, если заказ не найден в магазине.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при повторном создании заказа с тем же идентификатором.
	ErrOrderExists = errors.New("order already exists")
	// ErrMembershipNotFound возвращается, если у пользователя нет членства в магазине.
	ErrMembershipNotFound = errors.New("membership not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при конфликтах сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(r.delays) {
			return err
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetStore возвращает конфигурацию магазина.
func (r *PostgresRepository) GetStore(ctx context.Context, storeID string) (*model.Store, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(connected_account_id, ''), COALESCE(currency, ''), admin_email,
		        shipping, plan_prices, created_at
		 FROM stores WHERE id = $1`,
		storeID,
	)

	var (
		s          model.Store
		shipping   []byte
		planPrices []byte
	)
	err := row.Scan(&s.ID, &s.Name, &s.ConnectedAccountID, &s.Currency, &s.AdminEmail,
		&shipping, &planPrices, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
		}
		return nil, fmt.Errorf("get store: %w", err)
	}

	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &s.Shipping); err != nil {
			return nil, fmt.Errorf("decode store shipping: %w", err)
		}
	}
	if len(planPrices) > 0 {
		if err := json.Unmarshal(planPrices, &s.PlanPrices); err != nil {
			return nil, fmt.Errorf("decode store plan prices: %w", err)
		}
	}

	return &s, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO orders (id, store_id, user_id, items, customer, status, selected_rate_id, shipment_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		o.ID, o.StoreID, o.UserID, items, customer, string(o.Status),
		o.Shipping.SelectedRateID, o.Shipping.ShipmentID,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%w: %s", ErrStoreNotFound, o.StoreID)
			}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetOrder возвращает заказ магазина.
func (r *PostgresRepository) GetOrder(ctx context.Context, storeID, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, store_id, user_id, items, customer, status, selected_rate_id, shipment_id,
		        shipping_base_amount, shipping_charged_amount, shipping_margin_amount, shipping_currency,
		        checkout_session_id, payment_intent_id, created_at, updated_at
		 FROM orders
		 WHERE store_id = $1 AND id = $2`,
		storeID, orderID,
	)

	var (
		o                     model.Order
		items, customer       []byte
		status                string
		base, charged, margin *int64
		currency              *string
	)
	err := row.Scan(&o.ID, &o.StoreID, &o.UserID, &items, &customer, &status,
		&o.Shipping.SelectedRateID, &o.Shipping.ShipmentID,
		&base, &charged, &margin, &currency,
		&o.CheckoutSessionID, &o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrOrderNotFound, storeID, orderID)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}

	if base != nil && charged != nil {
		e := &model.ShippingEconomics{BaseAmount: *base, ChargedAmount: *charged}
		if margin != nil {
			e.MarginAmount = *margin
		}
		if currency != nil {
			e.Currency = *currency
		}
		o.Shipping.Economics = e
	}

	return &o, nil
}

// UpdateOrderStatus меняет статус заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, storeID, orderID string, status model.OrderStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now() WHERE store_id = $1 AND id = $2`,
		storeID, orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrOrderNotFound, storeID, orderID)
	}
	return nil
}

// AttachCheckoutSession дописывает к заказу идентификатор сессии оплаты и экономику доставки.
// Остальные поля заказа не затрагиваются.
func (r *PostgresRepository) AttachCheckoutSession(ctx context.Context, storeID, orderID, sessionID string, econ *model.ShippingEconomics) error {
	var base, charged, margin *int64
	var currency *string
	if econ != nil {
		base, charged, margin = &econ.BaseAmount, &econ.ChargedAmount, &econ.MarginAmount
		currency = &econ.Currency
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET checkout_session_id     = $3,
		     shipping_base_amount    = COALESCE($4, shipping_base_amount),
		     shipping_charged_amount = COALESCE($5, shipping_charged_amount),
		     shipping_margin_amount  = COALESCE($6, shipping_margin_amount),
		     shipping_currency       = COALESCE($7, shipping_currency),
		     updated_at              = now()
		 WHERE store_id = $1 AND id = $2`,
		storeID, orderID, sessionID, base, charged, margin, currency,
	)
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrOrderNotFound, storeID, orderID)
	}
	return nil
}

// MarkOrderPaid переводит ожидающий оплаты заказ в статус paid.
// Заказы в более поздних статусах не меняются; updated=false в этом случае и при отсутствии заказа.
func (r *PostgresRepository) MarkOrderPaid(ctx context.Context, storeID, orderID, sessionID, paymentIntentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status              = $3,
		     checkout_session_id = COALESCE(NULLIF($4, ''), checkout_session_id),
		     payment_intent_id   = COALESCE(NULLIF($5, ''), payment_intent_id),
		     updated_at          = now()
		 WHERE store_id = $1 AND id = $2 AND status IN ($6, $3)`,
		storeID, orderID, string(model.OrderStatusPaid), sessionID, paymentIntentID,
		string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertMembership создаёт или дополняет членство пользователя в магазине.
// Обновляются только поля перехода. created_at сохраняется, пустые идентификаторы Stripe не затирают известные.
func (r *PostgresRepository) UpsertMembership(ctx context.Context, m model.Membership) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO memberships (store_id, user_id, access_type, status, access_end, plan_type,
			                          stripe_customer_id, stripe_subscription_id, last_event_id, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			 ON CONFLICT (store_id, user_id) DO UPDATE SET
			     access_type            = EXCLUDED.access_type,
			     status                 = EXCLUDED.status,
			     access_end             = EXCLUDED.access_end,
			     plan_type              = EXCLUDED.plan_type,
			     stripe_customer_id     = COALESCE(EXCLUDED.stripe_customer_id, memberships.stripe_customer_id),
			     stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, memberships.stripe_subscription_id),
			     last_event_id          = EXCLUDED.last_event_id,
			     updated_at             = now()`,
			m.StoreID, m.UserID, string(m.AccessType), string(m.Status), m.AccessEnd, m.PlanType,
			nullString(m.StripeCustomerID), nullString(m.StripeSubscriptionID), m.LastEventID,
		)
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		return nil
	})
}

// GetMembership возвращает членство пользователя в магазине.
func (r *PostgresRepository) GetMembership(ctx context.Context, storeID, userID string) (*model.Membership, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT store_id, user_id, access_type, status, access_end, plan_type,
		        COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		        last_event_id, created_at, updated_at
		 FROM memberships
		 WHERE store_id = $1 AND user_id = $2`,
		storeID, userID,
	)

	var (
		m                  model.Membership
		accessType, status string
	)
	err := row.Scan(&m.StoreID, &m.UserID, &accessType, &status, &m.AccessEnd, &m.PlanType,
		&m.StripeCustomerID, &m.StripeSubscriptionID, &m.LastEventID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMembershipNotFound, storeID, userID)
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}

	m.AccessType = model.AccessType(accessType)
	m.Status = model.MembershipStatus(status)

	return &m, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
