package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/pkg/database"
)

const (
	classColumns = `id, tenant_id, class_code, subject_name, program_name, department, section, semester,
	start_time, end_time, duration_hours, total_seats, confirmed_count, waiting_tail, created_by, created_at`
	bookingColumns = `id, tenant_id, class_id, student_id, student_name, status, waiting_rank, created_at, promoted_at, cancelled_at`

	waitingCountExpr = `(SELECT COUNT(*) FROM bookings w WHERE w.tenant_id = c.tenant_id AND w.class_id = c.id AND w.status = 'waiting') AS waiting_count`

	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgQueryCanceled        = "57014"
	activeBookingIndex     = "bookings_active_student_idx"
)

// PostgresSeatStore persists classes and bookings in PostgreSQL. The per-class atomic unit is a
// transaction holding the class row with SELECT ... FOR UPDATE.
type PostgresSeatStore struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewPostgresSeatStore constructs the store. lockTimeout bounds the wait for a class row lock.
func NewPostgresSeatStore(db *sqlx.DB, lockTimeout time.Duration) *PostgresSeatStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PostgresSeatStore{db: db, lockTimeout: lockTimeout}
}

type classRow struct {
	models.ClassSession
	WaitingCount int `db:"waiting_count"`
}

func (r classRow) withSeats() models.ClassWithSeats {
	return models.ClassWithSeats{
		ClassSession: r.ClassSession,
		Seats:        models.NewSeatSummary(r.TotalSeats, r.ConfirmedCount, r.WaitingCount),
	}
}

// WithClassLock runs fn inside a transaction that holds the class row.
func (s *PostgresSeatStore) WithClassLock(ctx context.Context, tenantID, classID string, fn ClassTxFunc) error {
	err := database.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}

		var class models.ClassSession
		query := `SELECT ` + classColumns + ` FROM class_sessions WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL FOR UPDATE`
		if err := tx.GetContext(ctx, &class, query, tenantID, classID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrClassNotFound
			}
			return fmt.Errorf("lock class: %w", err)
		}
		return fn(&pgClassTx{tx: tx, class: class})
	})
	return classifyPGError(err)
}

// CreateClass assigns the next class code for the tenant and inserts the class unless its
// slot overlaps another class of the same department, semester and program.
func (s *PostgresSeatStore) CreateClass(ctx context.Context, class *models.ClassSession) error {
	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		// The sequence row lock serialises class creation per tenant.
		var next int
		const seqQuery = `INSERT INTO class_code_sequences (tenant_id, next_number) VALUES ($1, 1)
ON CONFLICT (tenant_id) DO UPDATE SET next_number = class_code_sequences.next_number + 1
RETURNING next_number`
		if err := tx.GetContext(ctx, &next, seqQuery, class.TenantID); err != nil {
			return fmt.Errorf("next class code: %w", err)
		}

		var conflict struct {
			ID        string `db:"id"`
			ClassCode string `db:"class_code"`
		}
		const overlapQuery = `SELECT id, class_code FROM class_sessions
WHERE tenant_id = $1 AND department = $2 AND semester = $3 AND program_name = $4
	AND deleted_at IS NULL AND start_time < $6 AND end_time > $5
ORDER BY start_time ASC LIMIT 1`
		err := tx.GetContext(ctx, &conflict, overlapQuery, class.TenantID, class.Department, class.Semester, class.ProgramName, class.StartTime, class.EndTime)
		switch {
		case err == nil:
			return &SlotConflictError{ClassID: conflict.ID, ClassCode: conflict.ClassCode}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check slot overlap: %w", err)
		}

		class.ClassCode = FormatClassCode(next)
		const insertQuery = `INSERT INTO class_sessions (` + classColumns + `)
VALUES (:id, :tenant_id, :class_code, :subject_name, :program_name, :department, :section, :semester,
	:start_time, :end_time, :duration_hours, :total_seats, :confirmed_count, :waiting_tail, :created_by, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insertQuery, class); err != nil {
			return fmt.Errorf("insert class: %w", err)
		}
		return nil
	})
	return classifyPGError(err)
}

// FindClass returns a class with its seat summary.
func (s *PostgresSeatStore) FindClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error) {
	query := `SELECT ` + prefixed("c", classColumns) + `, ` + waitingCountExpr + `
FROM class_sessions c WHERE c.tenant_id = $1 AND c.id = $2 AND c.deleted_at IS NULL`
	var row classRow
	if err := s.db.GetContext(ctx, &row, query, tenantID, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, classifyPGError(fmt.Errorf("find class: %w", err))
	}
	result := row.withSeats()
	return &result, nil
}

// ListClasses returns the tenant's classes matching filter ordered by start time.
func (s *PostgresSeatStore) ListClasses(ctx context.Context, filter models.ClassFilter) ([]models.ClassWithSeats, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT ` + prefixed("c", classColumns) + `, ` + waitingCountExpr + `
FROM class_sessions c WHERE c.tenant_id = $1 AND c.deleted_at IS NULL`)
	args := []interface{}{filter.TenantID}
	if filter.Semester > 0 {
		args = append(args, filter.Semester)
		fmt.Fprintf(&query, " AND c.semester = $%d", len(args))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		fmt.Fprintf(&query, " AND c.department = $%d", len(args))
	}
	if filter.Section != "" {
		args = append(args, filter.Section)
		fmt.Fprintf(&query, " AND c.section = $%d", len(args))
	}
	if filter.Program != "" {
		args = append(args, filter.Program)
		fmt.Fprintf(&query, " AND c.program_name = $%d", len(args))
	}
	query.WriteString("\nORDER BY c.start_time ASC, c.id ASC")

	var rows []classRow
	if err := s.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, classifyPGError(fmt.Errorf("list classes: %w", err))
	}
	result := make([]models.ClassWithSeats, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.withSeats())
	}
	return result, nil
}

// FindBooking returns a booking by id regardless of status.
func (s *PostgresSeatStore) FindBooking(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = $1 AND id = $2`
	if err := s.db.GetContext(ctx, &booking, query, tenantID, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, classifyPGError(fmt.Errorf("find booking: %w", err))
	}
	return &booking, nil
}

type studentBookingRow struct {
	models.Booking
	Class        models.ClassSession `db:"class"`
	WaitingCount int                 `db:"waiting_count"`
}

// ListStudentBookings returns the student's active bookings joined to their classes in one statement.
func (s *PostgresSeatStore) ListStudentBookings(ctx context.Context, tenantID, studentID string) ([]models.BookingWithClass, error) {
	query := `SELECT ` + prefixed("b", bookingColumns) + `, ` + nested("c", "class", classColumns) + `, ` + waitingCountExpr + `
FROM bookings b
JOIN class_sessions c ON c.tenant_id = b.tenant_id AND c.id = b.class_id
WHERE b.tenant_id = $1 AND b.student_id = $2 AND b.status <> 'cancelled' AND c.deleted_at IS NULL
ORDER BY c.start_time ASC, b.created_at ASC`

	var rows []studentBookingRow
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, studentID); err != nil {
		return nil, classifyPGError(fmt.Errorf("list student bookings: %w", err))
	}
	result := make([]models.BookingWithClass, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.BookingWithClass{
			Booking: row.Booking,
			Class: models.ClassWithSeats{
				ClassSession: row.Class,
				Seats:        models.NewSeatSummary(row.Class.TotalSeats, row.Class.ConfirmedCount, row.WaitingCount),
			},
		})
	}
	return result, nil
}

// ClassRoster reads a class and its active bookings from one repeatable-read snapshot.
func (s *PostgresSeatStore) ClassRoster(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, []models.Booking, error) {
	var (
		class    models.ClassWithSeats
		bookings []models.Booking
	)
	err := database.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sqlx.Tx) error {
		classQuery := `SELECT ` + prefixed("c", classColumns) + `, ` + waitingCountExpr + `
FROM class_sessions c WHERE c.tenant_id = $1 AND c.id = $2 AND c.deleted_at IS NULL`
		var row classRow
		if err := tx.GetContext(ctx, &row, classQuery, tenantID, classID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrClassNotFound
			}
			return fmt.Errorf("find class: %w", err)
		}
		class = row.withSeats()

		bookingQuery := `SELECT ` + bookingColumns + ` FROM bookings
WHERE tenant_id = $1 AND class_id = $2 AND status <> 'cancelled'
ORDER BY status = 'waiting', waiting_rank ASC, created_at ASC`
		if err := tx.SelectContext(ctx, &bookings, bookingQuery, tenantID, classID); err != nil {
			return fmt.Errorf("list class bookings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, classifyPGError(err)
	}
	return &class, bookings, nil
}

// Ping checks database connectivity.
func (s *PostgresSeatStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgClassTx struct {
	tx    *sqlx.Tx
	class models.ClassSession
}

func (t *pgClassTx) Class() models.ClassSession {
	return t.class
}

func (t *pgClassTx) ActiveBookingFor(ctx context.Context, studentID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
WHERE tenant_id = $1 AND class_id = $2 AND student_id = $3 AND status <> 'cancelled' LIMIT 1`
	return t.optionalBooking(ctx, "find active booking", query, t.class.TenantID, t.class.ID, studentID)
}

func (t *pgClassTx) Booking(ctx context.Context, bookingID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE tenant_id = $1 AND class_id = $2 AND id = $3`
	booking, err := t.optionalBooking(ctx, "find booking", query, t.class.TenantID, t.class.ID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, ErrBookingNotFound
	}
	return booking, nil
}

func (t *pgClassTx) NextWaiting(ctx context.Context) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
WHERE tenant_id = $1 AND class_id = $2 AND status = 'waiting'
ORDER BY waiting_rank ASC LIMIT 1`
	return t.optionalBooking(ctx, "find next waiting booking", query, t.class.TenantID, t.class.ID)
}

func (t *pgClassTx) CountConfirmed(ctx context.Context) (int, error) {
	return t.count(ctx, "count confirmed bookings", `SELECT COUNT(*) FROM bookings WHERE tenant_id = $1 AND class_id = $2 AND status = 'confirmed'`)
}

func (t *pgClassTx) CountActive(ctx context.Context) (int, error) {
	return t.count(ctx, "count active bookings", `SELECT COUNT(*) FROM bookings WHERE tenant_id = $1 AND class_id = $2 AND status <> 'cancelled'`)
}

func (t *pgClassTx) InsertBooking(ctx context.Context, booking *models.Booking) error {
	const query = `INSERT INTO bookings (id, tenant_id, class_id, student_id, student_name, status, waiting_rank, created_at)
VALUES (:id, :tenant_id, :class_id, :student_id, :student_name, :status, :waiting_rank, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, booking); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (t *pgClassTx) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	const query = `UPDATE bookings SET status = $1, waiting_rank = $2, promoted_at = $3, cancelled_at = $4
WHERE tenant_id = $5 AND class_id = $6 AND id = $7`
	res, err := t.tx.ExecContext(ctx, query, booking.Status, booking.WaitingRank, booking.PromotedAt, booking.CancelledAt, t.class.TenantID, t.class.ID, booking.ID)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (t *pgClassTx) UpdateCounters(ctx context.Context, confirmedCount, waitingTail int) error {
	const query = `UPDATE class_sessions SET confirmed_count = $1, waiting_tail = $2 WHERE tenant_id = $3 AND id = $4`
	if _, err := t.tx.ExecContext(ctx, query, confirmedCount, waitingTail, t.class.TenantID, t.class.ID); err != nil {
		return fmt.Errorf("update class counters: %w", err)
	}
	t.class.ConfirmedCount = confirmedCount
	t.class.WaitingTail = waitingTail
	return nil
}

func (t *pgClassTx) DeleteClass(ctx context.Context) error {
	const query = `UPDATE class_sessions SET deleted_at = NOW() WHERE tenant_id = $1 AND id = $2`
	if _, err := t.tx.ExecContext(ctx, query, t.class.TenantID, t.class.ID); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

func (t *pgClassTx) optionalBooking(ctx context.Context, op, query string, args ...interface{}) (*models.Booking, error) {
	var booking models.Booking
	if err := t.tx.GetContext(ctx, &booking, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &booking, nil
}

func (t *pgClassTx) count(ctx context.Context, op, query string) (int, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, query, t.class.TenantID, t.class.ID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// FormatClassCode renders the per-tenant class sequence number, e.g. CLS0007.
func FormatClassCode(n int) string {
	return fmt.Sprintf("CLS%04d", n)
}

// classifyPGError maps driver failures onto the store's error contract. Commit failures without a
// server verdict are deliberately not transient: the write may have been applied.
func classifyPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrCommitUncertain) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		case pgQueryCanceled:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		case pgUniqueViolation:
			if pqErr.Constraint == activeBookingIndex {
				return fmt.Errorf("%w: %v", ErrDuplicateActiveBooking, err)
			}
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func nested(alias, prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		col := strings.TrimSpace(part)
		parts[i] = fmt.Sprintf(`%s.%s AS "%s.%s"`, alias, col, prefix, col)
	}
	return strings.Join(parts, ", ")
}
