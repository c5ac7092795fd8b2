package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/bits"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	"github.com/louisbranch/fundraising.space/internal/platform/id"
	"github.com/louisbranch/fundraising.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/storage"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/storage/sqlite/migrations"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/submit"
	_ "modernc.org/sqlite"
)

// Store persists settlement records in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite settlement store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// BeginSubmission implements submit.Journal.
func (s *Store) BeginSubmission(ctx context.Context, sub submit.Submission) error {
	if strings.TrimSpace(sub.ID) == "" {
		return fmt.Errorf("submission id is required")
	}
	if sub.Digest.IsZero() {
		return fmt.Errorf("submission digest is required")
	}
	status := sub.Status
	if status == "" {
		status = submit.StatusPending
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO submissions (id, operation, room, digest, recent_slot, expires_after, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.Operation,
		sub.Room.String(),
		sub.Digest.String(),
		int64(sub.RecentSlot),
		int64(sub.ExpiresAfter),
		string(status),
		created.UTC().UnixMilli(),
		created.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("begin submission %s: %w", sub.ID, err)
	}
	return nil
}

// FinishSubmission implements submit.Journal.
func (s *Store) FinishSubmission(ctx context.Context, submissionID string, out submit.Outcome, at time.Time) error {
	var code, message string
	if out.Err != nil {
		code = string(apperrors.GetCode(out.Err))
		message = out.Err.Error()
	}
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE submissions SET status = ?, slot = ?, error_code = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(out.Status),
		int64(out.Slot),
		code,
		message,
		at.UTC().UnixMilli(),
		submissionID,
	)
	if err != nil {
		return fmt.Errorf("finish submission %s: %w", submissionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish submission %s: %w", submissionID, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const submissionColumns = `id, operation, room, digest, recent_slot, expires_after, status, slot, error_code, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (submit.Submission, error) {
	var (
		sub                       submit.Submission
		room, digest, status      string
		recentSlot, expires, slot int64
		createdAt, updatedAt      int64
	)
	if err := row.Scan(&sub.ID, &sub.Operation, &room, &digest, &recentSlot, &expires, &status, &slot,
		&sub.ErrorCode, &sub.ErrorMessage, &createdAt, &updatedAt); err != nil {
		return submit.Submission{}, err
	}
	var err error
	if sub.Room, err = address.Parse(room); err != nil {
		return submit.Submission{}, fmt.Errorf("parse submission room: %w", err)
	}
	if sub.Digest, err = bundle.ParseDigest(digest); err != nil {
		return submit.Submission{}, fmt.Errorf("parse submission digest: %w", err)
	}
	sub.RecentSlot = uint64(recentSlot)
	sub.ExpiresAfter = uint64(expires)
	sub.Status = submit.Status(status)
	sub.Slot = uint64(slot)
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return sub, nil
}

// GetSubmission implements storage.SubmissionStore.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (submit.Submission, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return submit.Submission{}, storage.ErrNotFound
		}
		return submit.Submission{}, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	return sub, nil
}

// ListSubmissions implements storage.SubmissionStore.
func (s *Store) ListSubmissions(ctx context.Context, room address.Address, status submit.Status) ([]submit.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE room = ?`
	args := []any{room.String()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions of %s: %w", room, err)
	}
	defer rows.Close()

	var out []submit.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// RecordPayment implements storage.PaymentStore. A blank id is generated.
func (s *Store) RecordPayment(ctx context.Context, p storage.Payment) error {
	if _, err := storage.ParsePaymentKind(string(p.Kind)); err != nil {
		return err
	}
	if p.Room.IsZero() {
		return fmt.Errorf("payment room is required")
	}
	if p.ID == "" {
		var err error
		if p.ID, err = id.NewID(); err != nil {
			return err
		}
	}
	recorded := p.RecordedAt
	if recorded.IsZero() {
		recorded = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO payments (id, room, kind, amount, reference, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Room.String(),
		string(p.Kind),
		strconv.FormatUint(p.Amount, 10),
		p.Reference,
		recorded.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record payment %s: %w", p.ID, err)
	}
	return nil
}

// ListPayments implements storage.PaymentStore.
func (s *Store) ListPayments(ctx context.Context, room address.Address) ([]storage.Payment, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, room, kind, amount, reference, recorded_at FROM payments WHERE room = ? ORDER BY recorded_at, id`,
		room.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list payments of %s: %w", room, err)
	}
	defer rows.Close()

	var out []storage.Payment
	for rows.Next() {
		var (
			p                      storage.Payment
			roomText, kind, amount string
			recordedAt             int64
		)
		if err := rows.Scan(&p.ID, &roomText, &kind, &amount, &p.Reference, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		if p.Room, err = address.Parse(roomText); err != nil {
			return nil, fmt.Errorf("parse payment room: %w", err)
		}
		if p.Kind, err = storage.ParsePaymentKind(kind); err != nil {
			return nil, err
		}
		if p.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, fmt.Errorf("parse payment amount: %w", err)
		}
		p.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

// GetExternalTotals implements storage.PaymentStore. Amounts are summed in
// Go because they are stored as decimal text.
func (s *Store) GetExternalTotals(ctx context.Context, room address.Address) (storage.ExternalTotals, error) {
	payments, err := s.ListPayments(ctx, room)
	if err != nil {
		return storage.ExternalTotals{}, err
	}
	var totals storage.ExternalTotals
	for _, p := range payments {
		target := &totals.OffChainPayments
		if p.Kind == storage.PaymentTicket {
			target = &totals.TicketRevenue
		}
		sum, carry := bits.Add64(*target, p.Amount, 0)
		if carry != 0 {
			return storage.ExternalTotals{}, fmt.Errorf("payments of %s overflow", room)
		}
		*target = sum
	}
	return totals, nil
}
