// Package quota implements the atomic per-tenant monthly minute
// accounting ledger. Reservations are persistent so a worker crash
// never leaks credit.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// ErrInsufficientCredits is returned by Reserve when the tenant's
// remaining minutes cannot satisfy the request.
var ErrInsufficientCredits = errors.New("quota: insufficient credits")

// ErrReservationResolved is returned by Commit/Release when the
// reservation has already been committed or released.
var ErrReservationResolved = errors.New("quota: reservation already resolved")

// PlanLimits resolves the monthly minute allowance for a plan, used by
// the lazy rollover path.
type PlanLimits interface {
	MonthlyMinutes(plan models.Plan) float64
}

// Ledger is the atomic per-(tenant, month) minute accounting store,
// backed by Postgres. The reserve/commit/release operations run inside
// transactions so they are linearizable per (tenant, month).
type Ledger struct {
	db     *sql.DB
	logger logging.Logger
	limits PlanLimits
}

// New creates a Ledger.
func New(db *sql.DB, limits PlanLimits, logger logging.Logger) *Ledger {
	return &Ledger{db: db, limits: limits, logger: logger}
}

// CurrentMonth returns the "YYYY-MM" key for the given instant, in UTC.
func CurrentMonth(at time.Time) string {
	return at.UTC().Format("2006-01")
}

func (l *Ledger) ensureRow(ctx context.Context, tx *sql.Tx, tenantID string, plan models.Plan, month string) error {
	limit := 0.0
	if l.limits != nil {
		limit = l.limits.MonthlyMinutes(plan)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_ledger (tenant_id, month, limit_minutes, used_minutes, translation_minutes)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (tenant_id, month) DO NOTHING`,
		tenantID, month, limit)
	if err != nil {
		return fmt.Errorf("quota: rollover insert: %w", err)
	}
	return nil
}

// Reserve atomically checks used+minutes <= limit, increments used by
// minutes, and records a held reservation. The row is rolled over
// lazily if this is the tenant's first access this month.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, plan models.Plan, month string, minutes float64, translate bool) (*models.Reservation, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("quota: minutes must be positive, got %v", minutes)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := l.ensureRow(ctx, tx, tenantID, plan, month); err != nil {
		return nil, err
	}

	var gotTenant string
	err = tx.QueryRowContext(ctx, `
		UPDATE usage_ledger
		SET used_minutes = used_minutes + $1, last_used_at = now()
		WHERE tenant_id = $2 AND month = $3 AND limit_minutes - used_minutes >= $1
		RETURNING tenant_id`,
		minutes, tenantID, month).Scan(&gotTenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("quota: reserve update: %w", err)
	}

	res := &models.Reservation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Month:     month,
		Amount:    minutes,
		Translate: translate,
		State:     models.ReservationHeld,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, tenant_id, month, amount, translate, state, created_at)
		VALUES ($1, $2, $3, $4, $5, 'held', $6)`,
		res.ID, res.TenantID, res.Month, res.Amount, res.Translate, res.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("quota: insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("quota: commit tx: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"tenant_id": tenantID, "month": month, "minutes": minutes, "reservation_id": res.ID,
	}).Info("quota reservation held")

	return res, nil
}

func (l *Ledger) loadReservation(ctx context.Context, tx *sql.Tx, id string) (*models.Reservation, error) {
	res := &models.Reservation{ID: id}
	err := tx.QueryRowContext(ctx, `
		SELECT tenant_id, month, amount, translate, state
		FROM reservations WHERE id = $1 FOR UPDATE`, id).
		Scan(&res.TenantID, &res.Month, &res.Amount, &res.Translate, &res.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quota: reservation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("quota: load reservation: %w", err)
	}
	return res, nil
}

// GetReservation returns a reservation's current record, read outside a
// transaction since callers use it for read-only decisions (e.g. the
// Pipeline Driver's probed-duration-vs-held-amount check).
func (l *Ledger) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	res := &models.Reservation{ID: id}
	err := l.db.QueryRowContext(ctx, `
		SELECT tenant_id, month, amount, translate, state, created_at, resolved_at
		FROM reservations WHERE id = $1`, id).
		Scan(&res.TenantID, &res.Month, &res.Amount, &res.Translate, &res.State, &res.CreatedAt, &res.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quota: reservation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("quota: get reservation: %w", err)
	}
	return res, nil
}

// Commit marks a reservation committed. used_minutes already reflects
// it; translation_minutes is additionally incremented when the
// reservation was flagged for translation.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := l.loadReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.State != models.ReservationHeld {
		return ErrReservationResolved
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = 'committed', resolved_at = now() WHERE id = $1`,
		reservationID); err != nil {
		return fmt.Errorf("quota: commit reservation: %w", err)
	}

	if res.Translate {
		if _, err := tx.ExecContext(ctx, `
			UPDATE usage_ledger SET translation_minutes = translation_minutes + $1
			WHERE tenant_id = $2 AND month = $3`,
			res.Amount, res.TenantID, res.Month); err != nil {
			return fmt.Errorf("quota: update translation minutes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("quota: commit tx: %w", err)
	}
	l.logger.WithFields(logging.Fields{"reservation_id": reservationID}).Info("quota reservation committed")
	return nil
}

// Release marks a reservation released and decrements used_minutes by
// the held amount.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := l.loadReservation(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if res.State != models.ReservationHeld {
		return ErrReservationResolved
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = 'released', resolved_at = now() WHERE id = $1`,
		reservationID); err != nil {
		return fmt.Errorf("quota: release reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE usage_ledger SET used_minutes = used_minutes - $1
		WHERE tenant_id = $2 AND month = $3`,
		res.Amount, res.TenantID, res.Month); err != nil {
		return fmt.Errorf("quota: decrement used minutes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("quota: commit tx: %w", err)
	}
	l.logger.WithFields(logging.Fields{"reservation_id": reservationID}).Info("quota reservation released")
	return nil
}

// Grant increases a tenant's monthly limit (payment/referral paths are
// external collaborators that call into this method).
func (l *Ledger) Grant(ctx context.Context, tenantID string, plan models.Plan, month string, extraMinutes float64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := l.ensureRow(ctx, tx, tenantID, plan, month); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE usage_ledger SET limit_minutes = limit_minutes + $1
		WHERE tenant_id = $2 AND month = $3`,
		extraMinutes, tenantID, month); err != nil {
		return fmt.Errorf("quota: grant: %w", err)
	}

	return tx.Commit()
}

// Row returns the current (tenant, month) ledger row, rolling it over
// lazily if absent.
func (l *Ledger) Row(ctx context.Context, tenantID string, plan models.Plan, month string) (*models.UsageLedgerRow, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("quota: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := l.ensureRow(ctx, tx, tenantID, plan, month); err != nil {
		return nil, err
	}

	row := &models.UsageLedgerRow{TenantID: tenantID, Month: month}
	err = tx.QueryRowContext(ctx, `
		SELECT limit_minutes, used_minutes, translation_minutes, last_used_at
		FROM usage_ledger WHERE tenant_id = $1 AND month = $2`, tenantID, month).
		Scan(&row.LimitMinutes, &row.UsedMinutes, &row.TranslationMinutes, &row.LastUsedAt)
	if err != nil {
		return nil, fmt.Errorf("quota: read row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("quota: commit tx: %w", err)
	}
	return row, nil
}
