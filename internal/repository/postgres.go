package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
)

// PostgresOrderStore implements OrderRepository and DriverDirectory.
// Order lines and status timestamps are stored as JSONB; the
// conditional status UPDATE is what serializes concurrent transitions.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(cred *Credentials) (*PostgresOrderStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresOrderStore{db: db}, nil
}

func (r *PostgresOrderStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "ordersync_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

const orderColumns = `id, origin_session_id, restaurant_id, region, driver_id, status, lines, total_amount, status_timestamps, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var driverID sql.NullString
	var linesJSON, timestampsJSON []byte

	err := row.Scan(
		&order.ID,
		&order.OriginSessionID,
		&order.RestaurantID,
		&order.Region,
		&driverID,
		&order.Status,
		&linesJSON,
		&order.TotalAmount,
		&timestampsJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.DriverID = driverID.String

	if err := json.Unmarshal(linesJSON, &order.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	if err := json.Unmarshal(timestampsJSON, &order.StatusTimestamps); err != nil {
		return nil, fmt.Errorf("unmarshal status timestamps: %w", err)
	}
	return &order, nil
}

func marshalOrder(order *domain.Order) (linesJSON, timestampsJSON []byte, driverID sql.NullString, err error) {
	linesJSON, err = json.Marshal(order.Lines)
	if err != nil {
		return nil, nil, driverID, fmt.Errorf("failed to marshal order lines: %w", err)
	}
	timestampsJSON, err = json.Marshal(order.StatusTimestamps)
	if err != nil {
		return nil, nil, driverID, fmt.Errorf("failed to marshal status timestamps: %w", err)
	}
	driverID = sql.NullString{String: order.DriverID, Valid: order.DriverID != ""}
	return linesJSON, timestampsJSON, driverID, nil
}

func (r *PostgresOrderStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	linesJSON, timestampsJSON, driverID, err := marshalOrder(order)
	if err != nil {
		return err
	}

	query := `INSERT INTO orders (id, origin_session_id, restaurant_id, region, driver_id, status, lines, total_amount, status_timestamps, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, insertErr := r.db.ExecContext(ctx, query,
		order.ID,
		order.OriginSessionID,
		order.RestaurantID,
		order.Region,
		driverID,
		order.Status,
		linesJSON,
		order.TotalAmount,
		timestampsJSON,
		order.CreatedAt,
		order.UpdatedAt)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

func (r *PostgresOrderStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderStore) GetOrderBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE origin_session_id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by session id: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderStore) ListOrdersByRestaurant(ctx context.Context, restaurantID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE restaurant_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("query orders by restaurant: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *PostgresOrderStore) UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	linesJSON, timestampsJSON, driverID, err := marshalOrder(order)
	if err != nil {
		return err
	}

	query := `UPDATE orders
	          SET status = $1, driver_id = $2, lines = $3, total_amount = $4, status_timestamps = $5, updated_at = $6
	          WHERE id = $7 AND status = $8`

	result, err := r.db.ExecContext(ctx, query,
		order.Status,
		driverID,
		linesJSON,
		order.TotalAmount,
		timestampsJSON,
		order.UpdatedAt,
		order.ID,
		from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer moved it first
		var exists bool
		checkErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists)
		if checkErr != nil {
			return fmt.Errorf("update order status: %w", checkErr)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (r *PostgresOrderStore) ListOrdersInStatusSince(ctx context.Context, status domain.OrderStatus, enteredBefore time.Time) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE status = $1 AND (status_timestamps->>$1)::timestamptz < $2`

	rows, err := r.db.QueryContext(ctx, query, status, enteredBefore)
	if err != nil {
		return nil, fmt.Errorf("query orders in status: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *PostgresOrderStore) SetDriverAvailable(ctx context.Context, driverID string, available bool) error {
	query := `INSERT INTO driver_status (driver_id, available, updated_at)
	          VALUES ($1, $2, NOW())
	          ON CONFLICT (driver_id) DO UPDATE SET available = $2, updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, driverID, available); err != nil {
		return fmt.Errorf("set driver availability: %w", err)
	}
	return nil
}

func (r *PostgresOrderStore) DriverAvailable(ctx context.Context, driverID string) (bool, error) {
	var available bool
	err := r.db.QueryRowContext(ctx,
		`SELECT available FROM driver_status WHERE driver_id = $1`, driverID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query driver availability: %w", err)
	}
	return available, nil
}

func (r *PostgresOrderStore) Close() error {
	return r.db.Close()
}
