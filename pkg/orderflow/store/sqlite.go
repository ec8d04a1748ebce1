package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/domain"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore persists every saga entity to a single SQLite database. It is
// grounded on the teacher flowgraph package's checkpoint.SQLiteStore: the
// same restrictive-permissions-before-open dance (closing a TOCTOU window
// between file creation and the driver touching it), the same WAL-mode
// pragma for concurrent readers, and the same "one *sql.DB, short
// transactions per call" discipline required by §5 (a step's remote call
// must never happen while a database transaction is open).
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writers; SQLite itself only allows one writer
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store at
// path, or ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if createErr == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Warn("failed to close saga store file after creation",
						slog.String("path", path), slog.String("error", closeErr.Error()))
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if path != ":memory:" {
		if err := os.Chmod(path, 0600); err != nil {
			slog.Warn("failed to set restrictive permissions on saga store file",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	return &SQLiteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			total_amount_cents INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price_cents INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,
		`CREATE TABLE IF NOT EXISTS saga_executions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			current_step_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			failed_step_index INTEGER,
			failure_reason TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			compensation_started_at TEXT,
			compensation_completed_at TEXT,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_order ON saga_executions(order_id, seq)`,
		`CREATE TABLE IF NOT EXISTS saga_step_results (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL REFERENCES saga_executions(id) ON DELETE CASCADE,
			step_name TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			status TEXT NOT NULL,
			step_data BLOB,
			error_message TEXT,
			started_at TEXT,
			completed_at TEXT,
			UNIQUE(execution_id, step_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON saga_step_results(execution_id, step_order)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			step_name TEXT,
			outcome TEXT,
			details BLOB,
			error_code TEXT,
			error_message TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_order ON order_events(order_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS retry_attempts (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			original_execution_id TEXT NOT NULL,
			retry_execution_id TEXT,
			attempt_number INTEGER NOT NULL,
			resumed_from_step TEXT,
			skipped_steps TEXT,
			outcome TEXT NOT NULL,
			failure_reason TEXT,
			initiated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retries_order ON retry_attempts(order_id)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			raised_at TEXT NOT NULL,
			acknowledged_at TEXT,
			acknowledged_by TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_order ON escalations(order_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func timeStr(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeStr(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// CreateOrderWithItems implements Store.
func (s *SQLiteStore) CreateOrderWithItems(ctx context.Context, order domain.Order, items []domain.OrderItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, total_amount_cents, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID.String(), order.CustomerID.String(), order.TotalAmountInCents,
			string(order.Status), timeStr(order.CreatedAt), timeStr(order.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price_cents)
				VALUES (?, ?, ?, ?, ?, ?)`,
				item.ID.String(), order.ID.String(), item.ProductID.String(),
				item.ProductName, item.Quantity, item.UnitPriceInCents)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

// GetOrder implements Store.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, total_amount_cents, status, created_at, updated_at
		FROM orders WHERE id = ?`, orderID.String())

	var id, customerID, status, createdAt, updatedAt string
	var total int64
	if err := row.Scan(&id, &customerID, &total, &status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := s.GetOrderItems(ctx, orderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Order{}, err
	}

	createdT, err := parseTime(createdAt)
	if err != nil {
		return domain.Order{}, err
	}
	updatedT, err := parseTime(updatedAt)
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		ID:                 uuid.MustParse(id),
		CustomerID:         uuid.MustParse(customerID),
		Items:              items,
		TotalAmountInCents: total,
		Status:             domain.OrderStatus(status),
		CreatedAt:          createdT,
		UpdatedAt:          updatedT,
	}, nil
}

// GetOrderItems implements Store.
func (s *SQLiteStore) GetOrderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, unit_price_cents
		FROM order_items WHERE order_id = ?`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderItem
	for rows.Next() {
		var id, productID, name string
		var qty int
		var price int64
		if err := rows.Scan(&id, &productID, &name, &qty, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out = append(out, domain.OrderItem{
			ID:               uuid.MustParse(id),
			OrderID:          orderID,
			ProductID:        uuid.MustParse(productID),
			ProductName:      name,
			Quantity:         qty,
			UnitPriceInCents: price,
		})
	}
	return out, rows.Err()
}

// UpdateOrderStatus implements Store.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), timeStr(at), orderID.String())
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return requireRowsAffected(res)
	})
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExecution implements Store.
func (s *SQLiteStore) CreateExecution(ctx context.Context, execution domain.SagaExecution) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM saga_executions
			WHERE order_id = ? AND status NOT IN (?, ?, ?)`,
			execution.OrderID.String(),
			string(domain.ExecutionCompleted), string(domain.ExecutionFailed), string(domain.ExecutionCompensated))
		var nonTerminal int
		if err := row.Scan(&nonTerminal); err != nil {
			return fmt.Errorf("check non-terminal executions: %w", err)
		}
		if nonTerminal > 0 {
			return ErrExecutionExists
		}

		var nextSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM saga_executions WHERE order_id = ?`,
			execution.OrderID.String()).Scan(&nextSeq); err != nil {
			return fmt.Errorf("compute execution sequence: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO saga_executions (id, order_id, current_step_index, status, failed_step_index,
				failure_reason, started_at, completed_at, compensation_started_at, compensation_completed_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			execution.ID.String(), execution.OrderID.String(), execution.CurrentStepIndex, string(execution.Status),
			nullIntPtr(execution.FailedStepIndex), nullStr(execution.FailureReason), timeStr(execution.StartedAt),
			nullTimeStr(execution.CompletedAt), nullTimeStr(execution.CompensationStartedAt), nullTimeStr(execution.CompensationCompletedAt),
			nextSeq)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		return nil
	})
}

func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func scanExecution(scan func(dest ...any) error) (domain.SagaExecution, error) {
	var id, orderID, status, startedAt string
	var currentStepIndex int
	var failedStepIndex sql.NullInt64
	var failureReason sql.NullString
	var completedAt, compStartedAt, compCompletedAt sql.NullString
	var seq int64

	if err := scan(&id, &orderID, &currentStepIndex, &status, &failedStepIndex, &failureReason,
		&startedAt, &completedAt, &compStartedAt, &compCompletedAt, &seq); err != nil {
		return domain.SagaExecution{}, err
	}

	exec := domain.SagaExecution{
		ID:               uuid.MustParse(id),
		OrderID:          uuid.MustParse(orderID),
		CurrentStepIndex: currentStepIndex,
		Status:           domain.ExecutionStatus(status),
		FailureReason:    failureReason.String,
	}
	if failedStepIndex.Valid {
		idx := int(failedStepIndex.Int64)
		exec.FailedStepIndex = &idx
	}
	started, err := parseTime(startedAt)
	if err != nil {
		return domain.SagaExecution{}, err
	}
	exec.StartedAt = started

	if exec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.SagaExecution{}, err
	}
	if exec.CompensationStartedAt, err = parseNullTime(compStartedAt); err != nil {
		return domain.SagaExecution{}, err
	}
	if exec.CompensationCompletedAt, err = parseNullTime(compCompletedAt); err != nil {
		return domain.SagaExecution{}, err
	}
	return exec, nil
}

const executionColumns = `id, order_id, current_step_index, status, failed_step_index, failure_reason,
	started_at, completed_at, compensation_started_at, compensation_completed_at, seq`

// GetExecution implements Store.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID uuid.UUID) (domain.SagaExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM saga_executions WHERE id = ?`, executionID.String())
	exec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SagaExecution{}, ErrNotFound
	}
	if err != nil {
		return domain.SagaExecution{}, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// UpdateExecution implements Store.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, execution domain.SagaExecution) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_executions SET current_step_index = ?, status = ?, failed_step_index = ?,
				failure_reason = ?, completed_at = ?, compensation_started_at = ?, compensation_completed_at = ?
			WHERE id = ?`,
			execution.CurrentStepIndex, string(execution.Status), nullIntPtr(execution.FailedStepIndex),
			nullStr(execution.FailureReason), nullTimeStr(execution.CompletedAt),
			nullTimeStr(execution.CompensationStartedAt), nullTimeStr(execution.CompensationCompletedAt),
			execution.ID.String())
		if err != nil {
			return fmt.Errorf("update execution: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// StartStep implements Store.
func (s *SQLiteStore) StartStep(ctx context.Context, executionID uuid.UUID, stepName string, stepOrder int, at time.Time) (uuid.UUID, error) {
	id := uuid.New()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO saga_step_results (id, execution_id, step_name, step_order, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), executionID.String(), stepName, stepOrder, string(domain.StepInProgress), timeStr(at))
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}

		res, err := tx.ExecContext(ctx, `UPDATE saga_executions SET current_step_index = ? WHERE id = ?`,
			stepOrder-1, executionID.String())
		if err != nil {
			return fmt.Errorf("advance current step index: %w", err)
		}
		return requireRowsAffected(res)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// CompleteStep implements Store.
func (s *SQLiteStore) CompleteStep(ctx context.Context, stepResultID uuid.UUID, stepData map[string]string, completedAt time.Time) error {
	data, err := MarshalStepData(stepData)
	if err != nil {
		return fmt.Errorf("marshal step data: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_step_results SET status = ?, step_data = ?, completed_at = ? WHERE id = ?`,
			string(domain.StepCompleted), data, timeStr(completedAt), stepResultID.String())
		if err != nil {
			return fmt.Errorf("complete step: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// FailStep implements Store.
func (s *SQLiteStore) FailStep(ctx context.Context, stepResultID uuid.UUID, errorMessage string, completedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_step_results SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
			string(domain.StepFailed), errorMessage, timeStr(completedAt), stepResultID.String())
		if err != nil {
			return fmt.Errorf("fail step: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// SkipStep implements Store.
func (s *SQLiteStore) SkipStep(ctx context.Context, executionID uuid.UUID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (uuid.UUID, error) {
	data, err := MarshalStepData(stepData)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal step data: %w", err)
	}
	id := uuid.New()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO saga_step_results (id, execution_id, step_name, step_order, status, step_data, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), executionID.String(), stepName, stepOrder, string(domain.StepSkipped), data, timeStr(at), timeStr(at))
		if err != nil {
			return fmt.Errorf("insert skipped step: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FailExecution implements Store.
func (s *SQLiteStore) FailExecution(ctx context.Context, executionID uuid.UUID, failedStepIndex int, reason string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_executions SET status = ?, failed_step_index = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
			string(domain.ExecutionFailed), failedStepIndex, reason, timeStr(at), executionID.String())
		if err != nil {
			return fmt.Errorf("fail execution: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// MarkCompensationStarted implements Store.
func (s *SQLiteStore) MarkCompensationStarted(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE saga_executions SET compensation_started_at = ? WHERE id = ?`,
			timeStr(at), executionID.String())
		if err != nil {
			return fmt.Errorf("mark compensation started: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// MarkCompensated implements Store.
func (s *SQLiteStore) MarkCompensated(ctx context.Context, stepResultID uuid.UUID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE saga_step_results SET status = ?, completed_at = ? WHERE id = ?`,
			string(domain.StepCompensated), timeStr(at), stepResultID.String())
		if err != nil {
			return fmt.Errorf("mark compensated: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// MarkExecutionCompensated implements Store.
func (s *SQLiteStore) MarkExecutionCompensated(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_executions SET status = ?, compensation_completed_at = ? WHERE id = ?`,
			string(domain.ExecutionCompensated), timeStr(at), executionID.String())
		if err != nil {
			return fmt.Errorf("mark execution compensated: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// MarkExecutionCompensationFailed implements Store.
func (s *SQLiteStore) MarkExecutionCompensationFailed(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE saga_executions SET status = ?, compensation_completed_at = ? WHERE id = ?`,
			string(domain.ExecutionFailed), timeStr(at), executionID.String())
		if err != nil {
			return fmt.Errorf("mark execution compensation failed: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// GetStepResults implements Store.
func (s *SQLiteStore) GetStepResults(ctx context.Context, executionID uuid.UUID) ([]domain.SagaStepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_name, step_order, status, step_data, error_message, started_at, completed_at
		FROM saga_step_results WHERE execution_id = ? ORDER BY step_order ASC`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("get step results: %w", err)
	}
	defer rows.Close()

	var out []domain.SagaStepResult
	for rows.Next() {
		row, err := scanStepResult(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanStepResult(scan func(dest ...any) error) (domain.SagaStepResult, error) {
	var id, executionID, stepName, status string
	var stepOrder int
	var stepData []byte
	var errorMessage sql.NullString
	var startedAt, completedAt sql.NullString

	if err := scan(&id, &executionID, &stepName, &stepOrder, &status, &stepData, &errorMessage, &startedAt, &completedAt); err != nil {
		return domain.SagaStepResult{}, err
	}

	data, err := UnmarshalStepData(stepData)
	if err != nil {
		return domain.SagaStepResult{}, fmt.Errorf("unmarshal step data: %w", err)
	}

	row := domain.SagaStepResult{
		ID:           uuid.MustParse(id),
		ExecutionID:  uuid.MustParse(executionID),
		StepName:     stepName,
		StepOrder:    stepOrder,
		Status:       domain.StepStatus(status),
		StepData:     data,
		ErrorMessage: errorMessage.String,
	}
	if row.StartedAt, err = parseNullTime(startedAt); err != nil {
		return domain.SagaStepResult{}, err
	}
	if row.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return domain.SagaStepResult{}, err
	}
	return row, nil
}

// AppendEvent implements Store.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event domain.OrderEvent) error {
	details, err := MarshalStepData(event.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var nextSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM order_events WHERE order_id = ?`,
			event.OrderID.String()).Scan(&nextSeq); err != nil {
			return fmt.Errorf("compute event sequence: %w", err)
		}

		id := event.ID
		if id == uuid.Nil {
			id = uuid.New()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_events (id, order_id, sequence, event_type, step_name, outcome, details,
				error_code, error_message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(), event.OrderID.String(), nextSeq, event.EventType, nullStr(event.StepName),
			nullStr(event.Outcome), details, nullStr(event.ErrorCode), nullStr(event.ErrorMessage), timeStr(event.Timestamp))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// GetEvents implements Store.
func (s *SQLiteStore) GetEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, sequence, event_type, step_name, outcome, details, error_code, error_message, timestamp
		FROM order_events WHERE order_id = ? ORDER BY sequence ASC`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderEvent
	for rows.Next() {
		var id, ordID, eventType, timestamp string
		var stepName, outcome, errorCode, errorMessage sql.NullString
		var seq int64
		var details []byte

		if err := rows.Scan(&id, &ordID, &seq, &eventType, &stepName, &outcome, &details, &errorCode, &errorMessage, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		detailMap, err := UnmarshalStepData(details)
		if err != nil {
			return nil, fmt.Errorf("unmarshal event details: %w", err)
		}
		ts, err := parseTime(timestamp)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.OrderEvent{
			ID:           uuid.MustParse(id),
			OrderID:      uuid.MustParse(ordID),
			Sequence:     seq,
			EventType:    eventType,
			StepName:     stepName.String,
			Outcome:      outcome.String,
			Details:      detailMap,
			ErrorCode:    errorCode.String,
			ErrorMessage: errorMessage.String,
			Timestamp:    ts,
		})
	}
	return out, rows.Err()
}

// FindResumeState implements Store.
func (s *SQLiteStore) FindResumeState(ctx context.Context, orderID uuid.UUID) (ResumeState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM saga_executions WHERE order_id = ? ORDER BY seq DESC LIMIT 1`,
		orderID.String())
	exec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ResumeState{}, ErrNotFound
	}
	if err != nil {
		return ResumeState{}, fmt.Errorf("find resume state: %w", err)
	}

	steps, err := s.GetStepResults(ctx, exec.ID)
	if err != nil {
		return ResumeState{}, err
	}
	return ResumeState{Execution: exec, Steps: steps}, nil
}

// ListExecutions implements Store.
func (s *SQLiteStore) ListExecutions(ctx context.Context, orderID uuid.UUID) ([]domain.SagaExecution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM saga_executions WHERE order_id = ? ORDER BY seq ASC`,
		orderID.String())
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.SagaExecution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// CreateRetryAttempt implements Store.
func (s *SQLiteStore) CreateRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var pending int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_attempts WHERE order_id = ? AND outcome = ?`,
			attempt.OrderID.String(), string(domain.RetryPending)).Scan(&pending); err != nil {
			return fmt.Errorf("check pending retry: %w", err)
		}
		if pending > 0 {
			return ErrPendingRetryExists
		}

		var retryExecID sql.NullString
		if attempt.RetryExecutionID != nil {
			retryExecID = sql.NullString{String: attempt.RetryExecutionID.String(), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO retry_attempts (id, order_id, original_execution_id, retry_execution_id, attempt_number,
				resumed_from_step, skipped_steps, outcome, failure_reason, initiated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			attempt.ID.String(), attempt.OrderID.String(), attempt.OriginalExecutionID.String(), retryExecID,
			attempt.AttemptNumber, nullStr(attempt.ResumedFromStep), strings.Join(attempt.SkippedSteps, ","),
			string(attempt.Outcome), nullStr(attempt.FailureReason), timeStr(attempt.InitiatedAt), nullTimeStr(attempt.CompletedAt))
		if err != nil {
			return fmt.Errorf("insert retry attempt: %w", err)
		}
		return nil
	})
}

// UpdateRetryAttempt implements Store.
func (s *SQLiteStore) UpdateRetryAttempt(ctx context.Context, attempt domain.RetryAttempt) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var retryExecID sql.NullString
		if attempt.RetryExecutionID != nil {
			retryExecID = sql.NullString{String: attempt.RetryExecutionID.String(), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE retry_attempts SET retry_execution_id = ?, resumed_from_step = ?, skipped_steps = ?,
				outcome = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
			retryExecID, nullStr(attempt.ResumedFromStep), strings.Join(attempt.SkippedSteps, ","),
			string(attempt.Outcome), nullStr(attempt.FailureReason), nullTimeStr(attempt.CompletedAt), attempt.ID.String())
		if err != nil {
			return fmt.Errorf("update retry attempt: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// ListRetryAttempts implements Store.
func (s *SQLiteStore) ListRetryAttempts(ctx context.Context, orderID uuid.UUID) ([]domain.RetryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, original_execution_id, retry_execution_id, attempt_number, resumed_from_step,
			skipped_steps, outcome, failure_reason, initiated_at, completed_at
		FROM retry_attempts WHERE order_id = ? ORDER BY attempt_number ASC`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("list retry attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.RetryAttempt
	for rows.Next() {
		var id, ordID, origExecID, outcome, initiatedAt string
		var retryExecID, resumedFromStep, skippedSteps, failureReason, completedAt sql.NullString
		var attemptNumber int

		if err := rows.Scan(&id, &ordID, &origExecID, &retryExecID, &attemptNumber, &resumedFromStep,
			&skippedSteps, &outcome, &failureReason, &initiatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan retry attempt: %w", err)
		}

		initiated, err := parseTime(initiatedAt)
		if err != nil {
			return nil, err
		}
		completed, err := parseNullTime(completedAt)
		if err != nil {
			return nil, err
		}

		attempt := domain.RetryAttempt{
			ID:                  uuid.MustParse(id),
			OrderID:             uuid.MustParse(ordID),
			OriginalExecutionID: uuid.MustParse(origExecID),
			AttemptNumber:       attemptNumber,
			ResumedFromStep:     resumedFromStep.String,
			Outcome:             domain.RetryOutcome(outcome),
			FailureReason:       failureReason.String,
			InitiatedAt:         initiated,
			CompletedAt:         completed,
		}
		if retryExecID.Valid {
			id := uuid.MustParse(retryExecID.String)
			attempt.RetryExecutionID = &id
		}
		if skippedSteps.Valid && skippedSteps.String != "" {
			attempt.SkippedSteps = strings.Split(skippedSteps.String, ",")
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

// HasPendingRetryAttempt implements Store.
func (s *SQLiteStore) HasPendingRetryAttempt(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_attempts WHERE order_id = ? AND outcome = ?`,
		orderID.String(), string(domain.RetryPending)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pending retry: %w", err)
	}
	return count > 0, nil
}

// RaiseEscalation implements Store.
func (s *SQLiteStore) RaiseEscalation(ctx context.Context, escalation domain.Escalation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO escalations (id, order_id, execution_id, step_name, attempts, last_error, raised_at,
				acknowledged_at, acknowledged_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			escalation.ID.String(), escalation.OrderID.String(), escalation.ExecutionID.String(), escalation.StepName,
			escalation.Attempts, nullStr(escalation.LastError), timeStr(escalation.RaisedAt),
			nullTimeStr(escalation.AcknowledgedAt), nullStr(escalation.AcknowledgedBy))
		if err != nil {
			return fmt.Errorf("insert escalation: %w", err)
		}
		return nil
	})
}

// ListEscalations implements Store.
func (s *SQLiteStore) ListEscalations(ctx context.Context, orderID uuid.UUID) ([]domain.Escalation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, execution_id, step_name, attempts, last_error, raised_at, acknowledged_at, acknowledged_by
		FROM escalations WHERE order_id = ? ORDER BY raised_at ASC`, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []domain.Escalation
	for rows.Next() {
		var id, ordID, execID, stepName, raisedAt string
		var lastError, acknowledgedAt, acknowledgedBy sql.NullString
		var attempts int

		if err := rows.Scan(&id, &ordID, &execID, &stepName, &attempts, &lastError, &raisedAt, &acknowledgedAt, &acknowledgedBy); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		raised, err := parseTime(raisedAt)
		if err != nil {
			return nil, err
		}
		ackAt, err := parseNullTime(acknowledgedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Escalation{
			ID:             uuid.MustParse(id),
			OrderID:        uuid.MustParse(ordID),
			ExecutionID:    uuid.MustParse(execID),
			StepName:       stepName,
			Attempts:       attempts,
			LastError:      lastError.String,
			RaisedAt:       raised,
			AcknowledgedAt: ackAt,
			AcknowledgedBy: acknowledgedBy.String,
		})
	}
	return out, rows.Err()
}

// AcknowledgeEscalation implements Store.
func (s *SQLiteStore) AcknowledgeEscalation(ctx context.Context, escalationID uuid.UUID, by string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE escalations SET acknowledged_at = ?, acknowledged_by = ? WHERE id = ?`,
			timeStr(at), by, escalationID.String())
		if err != nil {
			return fmt.Errorf("acknowledge escalation: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// withTx runs fn inside a single transaction, serialized against other
// writers on this store. SQLite permits only one writer at a time; holding
// a Go-level mutex here keeps BUSY retries out of the hot path rather than
// relying on the driver's internal lock contention handling.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
