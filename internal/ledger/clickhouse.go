// Package ledger записывает рассчитанные комиссии платформы в ClickHouse для отчётности.
package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Entry описывает строку журнала комиссий по одной сессии оплаты. Суммы в минимальных единицах валюты.
type Entry struct {
	SessionID      string
	StoreID        string
	OrderID        string
	UserID         string
	AccountID      string
	Currency       string
	Subtotal       int64
	ShippingBase   int64
	ShippingCharge int64
	ShippingMargin int64
	PlatformFee    int64
	ApplicationFee int64
	CreatedAt      time.Time
}

// Config содержит параметры подключения к ClickHouse.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	TLS      bool
}

// ClickHouseLedger пишет журнал комиссий в таблицу platform_fees.
type ClickHouseLedger struct {
	conn     driver.Conn
	database string
}

// NewClickHouseLedger подключается к ClickHouse и создаёт таблицу журнала при необходимости.
func NewClickHouseLedger(ctx context.Context, cfg Config) (*ClickHouseLedger, error) {
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
		DialTimeout:  10 * time.Second,
	}
	if cfg.TLS {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	l := &ClickHouseLedger{conn: conn, database: cfg.Database}
	if err := l.ensureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return l, nil
}

func (l *ClickHouseLedger) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.platform_fees (
			session_id      String,
			store_id        String,
			order_id        String,
			user_id         String,
			account_id      String,
			currency        LowCardinality(String),
			subtotal        Int64,
			shipping_base   Int64,
			shipping_charge Int64,
			shipping_margin Int64,
			platform_fee    Int64,
			application_fee Int64,
			created_at      DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree
		ORDER BY (store_id, session_id)
	`, l.database)

	if err := l.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create platform_fees table: %w", err)
	}
	return nil
}

// Record добавляет строку в журнал.
func (l *ClickHouseLedger) Record(ctx context.Context, e Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.platform_fees (
			session_id, store_id, order_id, user_id, account_id, currency,
			subtotal, shipping_base, shipping_charge, shipping_margin,
			platform_fee, application_fee, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.database)

	if err := l.conn.Exec(ctx, query, e.values()...); err != nil {
		return fmt.Errorf("insert platform fee: %w", err)
	}
	return nil
}

// Close закрывает соединение.
func (l *ClickHouseLedger) Close() error {
	return l.conn.Close()
}

func (e Entry) values() []any {
	return []any{
		e.SessionID,
		e.StoreID,
		e.OrderID,
		e.UserID,
		e.AccountID,
		e.Currency,
		e.Subtotal,
		e.ShippingBase,
		e.ShippingCharge,
		e.ShippingMargin,
		e.PlatformFee,
		e.ApplicationFee,
		e.CreatedAt.UTC(),
	}
}
