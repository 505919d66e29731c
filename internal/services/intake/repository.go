package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pos-terminal/internal/database"
	"pos-terminal/internal/models"
)

// Repository persists accepted orders and terminal liveness
type Repository interface {
	// CreateOrder stores order under clientRef. When clientRef was seen
	// before it returns the original record and created=false.
	CreateOrder(ctx context.Context, order models.Order, clientRef string, now time.Time) (*models.AcceptedOrder, bool, error)
	UpsertTerminal(ctx context.Context, hb models.HeartbeatMessage) error
	ListTerminals(ctx context.Context) ([]models.HeartbeatMessage, error)
	Ping(ctx context.Context) error
}

// PostgresRepository implements Repository on PostgreSQL
type PostgresRepository struct {
	db *database.DB
}

func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order models.Order, clientRef string, now time.Time) (*models.AcceptedOrder, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, database.LockOrderNumbersSQL); err != nil {
		return nil, false, fmt.Errorf("lock order numbers: %w", err)
	}

	existing, err := findByClientRef(ctx, tx, clientRef)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	number, err := nextOrderNumber(ctx, tx, now)
	if err != nil {
		return nil, false, err
	}

	var (
		method   *string
		tendered *float64
	)
	if order.Payment != nil {
		m := string(order.Payment.Method)
		method = &m
		if order.Payment.Method == models.PaymentCash {
			t := order.Payment.Tendered
			tendered = &t
		}
	}

	var (
		orderID  int64
		accepted = models.AcceptedOrder{ClientRef: clientRef}
	)
	err = tx.QueryRow(ctx, database.InsertOrderSQL,
		number, clientRef, order.OutletID, order.StaffID, order.TableID,
		order.Subtotal, order.Tax, order.Discount, order.Total, method, tendered,
	).Scan(&orderID, &accepted.ID, &accepted.Total, &accepted.Status, &accepted.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Another writer inserted this client_ref first.
		existing, err := findByClientRef(ctx, tx, clientRef)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("order %s neither inserted nor found", clientRef)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.Exec(ctx, database.InsertOrderItemSQL, orderID, item.ID, item.Name, item.Quantity, item.Price); err != nil {
			return nil, false, fmt.Errorf("insert order item %s: %w", item.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, database.InsertOrderStatusLogSQL, orderID, accepted.Status, order.StaffID, "submitted by terminal"); err != nil {
		return nil, false, fmt.Errorf("insert status log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit order: %w", err)
	}
	return &accepted, true, nil
}

func findByClientRef(ctx context.Context, tx pgx.Tx, clientRef string) (*models.AcceptedOrder, error) {
	var (
		id       int64
		accepted = models.AcceptedOrder{ClientRef: clientRef}
	)
	err := tx.QueryRow(ctx, database.GetOrderByClientRefSQL, clientRef).
		Scan(&id, &accepted.ID, &accepted.Total, &accepted.Status, &accepted.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order by client ref: %w", err)
	}
	return &accepted, nil
}

// nextOrderNumber allocates ORD_YYYYMMDD_NNN, restarting the sequence each UTC day
func nextOrderNumber(ctx context.Context, tx pgx.Tx, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	var seq int
	if err := tx.QueryRow(ctx, database.GetNextOrderNumberSQL, fmt.Sprintf("ORD_%s_%%", day)).Scan(&seq); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return formatOrderNumber(now, seq), nil
}

func formatOrderNumber(now time.Time, seq int) string {
	return fmt.Sprintf("ORD_%s_%03d", now.UTC().Format("20060102"), seq)
}

func (r *PostgresRepository) UpsertTerminal(ctx context.Context, hb models.HeartbeatMessage) error {
	err := r.db.Exec(ctx, database.UpsertTerminalSQL,
		hb.OutletID, hb.StaffID, hb.ClientType, string(hb.Status), hb.PendingOrders, hb.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert terminal: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListTerminals(ctx context.Context) ([]models.HeartbeatMessage, error) {
	rows, err := r.db.Query(ctx, database.GetAllTerminalsSQL)
	if err != nil {
		return nil, fmt.Errorf("query terminals: %w", err)
	}
	defer rows.Close()

	var terminals []models.HeartbeatMessage
	for rows.Next() {
		var (
			hb     models.HeartbeatMessage
			status string
		)
		if err := rows.Scan(&hb.OutletID, &hb.StaffID, &hb.ClientType, &status, &hb.PendingOrders, &hb.Timestamp); err != nil {
			return nil, fmt.Errorf("scan terminal: %w", err)
		}
		hb.Status = models.TerminalStatus(status)
		terminals = append(terminals, hb)
	}
	return terminals, rows.Err()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
