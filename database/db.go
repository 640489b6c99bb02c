package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"order-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	order_number VARCHAR(32) NOT NULL UNIQUE,
	user_id BIGINT NOT NULL,
	total_amount NUMERIC(12, 2) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	payment_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	payment_method VARCHAR(50),
	notes TEXT,
	shipping_method VARCHAR(100),
	tracking_number VARCHAR(100),
	shipping_first_name VARCHAR(100) NOT NULL,
	shipping_last_name VARCHAR(100) NOT NULL,
	shipping_email VARCHAR(255) NOT NULL,
	shipping_phone VARCHAR(50),
	shipping_address_line1 VARCHAR(255) NOT NULL,
	shipping_address_line2 VARCHAR(255),
	shipping_city VARCHAR(100) NOT NULL,
	shipping_state VARCHAR(100),
	shipping_postal_code VARCHAR(20) NOT NULL,
	shipping_country VARCHAR(100) NOT NULL,
	shipping_company VARCHAR(255),
	billing_first_name VARCHAR(100),
	billing_last_name VARCHAR(100),
	billing_email VARCHAR(255),
	billing_phone VARCHAR(50),
	billing_address_line1 VARCHAR(255),
	billing_address_line2 VARCHAR(255),
	billing_city VARCHAR(100),
	billing_state VARCHAR(100),
	billing_postal_code VARCHAR(20),
	billing_country VARCHAR(100),
	billing_company VARCHAR(255),
	billing_tax_id VARCHAR(50),
	locked BOOLEAN NOT NULL DEFAULT FALSE,
	locked_at TIMESTAMP,
	locked_payment_id BIGINT,
	version INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

ALTER TABLE orders ADD COLUMN IF NOT EXISTS locked_payment_id BIGINT;

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status_updated_at ON orders (status, updated_at);

CREATE TABLE IF NOT EXISTS order_items (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	product_id BIGINT NOT NULL,
	product_name VARCHAR(255) NOT NULL,
	product_sku VARCHAR(100),
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(12, 2) NOT NULL,
	discount_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	tax_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	total_price NUMERIC(12, 2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items (order_id);

CREATE TABLE IF NOT EXISTS order_payments (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL,
	payment_id BIGINT NOT NULL UNIQUE,
	payment_txn_id VARCHAR(255),
	status VARCHAR(20) NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func InitDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connection established",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName),
	)
	return db, nil
}

// Migrate creates the order tables if they don't exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
