package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/fundraising.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/fundraising.space/internal/services/ledger/storage"
	"github.com/louisbranch/fundraising.space/internal/services/ledger/storage/sqlite/migrations"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/chain"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/address"
	"github.com/louisbranch/fundraising.space/internal/services/settlement/domain/bundle"
	_ "modernc.org/sqlite"
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists ledger state in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite ledger store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps bundle transactions strictly serial.
	sqlDB.SetMaxOpenConns(1)
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

// Account implements storage.AccountReader.
func (s *Store) Account(ctx context.Context, addr address.Address) (*chain.Account, error) {
	return getAccount(ctx, s.sqlDB, addr)
}

// Accounts implements storage.Store.
func (s *Store) Accounts(ctx context.Context, addrs []address.Address) ([]*chain.Account, error) {
	out := make([]*chain.Account, len(addrs))
	for i, addr := range addrs {
		acct, err := getAccount(ctx, s.sqlDB, addr)
		if err != nil {
			return nil, err
		}
		out[i] = acct
	}
	return out, nil
}

// AccountsByOwner implements storage.AccountReader.
func (s *Store) AccountsByOwner(ctx context.Context, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error) {
	return listByOwner(ctx, s.sqlDB, owner, kind)
}

// Bundle implements storage.Store.
func (s *Store) Bundle(ctx context.Context, digest bundle.Digest) (storage.BundleRecord, error) {
	return getBundle(ctx, s.sqlDB, digest)
}

// RecordBundle implements storage.Store.
func (s *Store) RecordBundle(ctx context.Context, rec storage.BundleRecord) error {
	return putBundle(ctx, s.sqlDB, rec, s.now())
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.inTx(ctx, fn, true)
}

// DryRun implements storage.Store.
func (s *Store) DryRun(ctx context.Context, fn func(storage.Tx) error) error {
	return s.inTx(ctx, fn, false)
}

func (s *Store) inTx(ctx context.Context, fn func(storage.Tx) error, commit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{q: sqlTx, now: s.now}); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// tx implements storage.Tx over one SQL transaction.
type tx struct {
	q   querier
	now func() time.Time
}

func (t *tx) Account(ctx context.Context, addr address.Address) (*chain.Account, error) {
	return getAccount(ctx, t.q, addr)
}

func (t *tx) AccountsByOwner(ctx context.Context, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error) {
	return listByOwner(ctx, t.q, owner, kind)
}

func (t *tx) PutAccount(ctx context.Context, acct *chain.Account) error {
	if acct == nil {
		return fmt.Errorf("account is required")
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO accounts (address, kind, owner, mint, amount, reserve, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		   kind = excluded.kind,
		   owner = excluded.owner,
		   mint = excluded.mint,
		   amount = excluded.amount,
		   reserve = excluded.reserve,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		acct.Address.String(),
		string(acct.Kind),
		acct.Owner.String(),
		acct.Mint.String(),
		strconv.FormatUint(acct.Amount, 10),
		strconv.FormatUint(acct.Reserve, 10),
		[]byte(acct.Data),
		t.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put account %s: %w", acct.Address, err)
	}
	return nil
}

func (t *tx) DeleteAccount(ctx context.Context, addr address.Address) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM accounts WHERE address = ?`, addr.String()); err != nil {
		return fmt.Errorf("delete account %s: %w", addr, err)
	}
	return nil
}

func (t *tx) Bundle(ctx context.Context, digest bundle.Digest) (storage.BundleRecord, error) {
	return getBundle(ctx, t.q, digest)
}

func (t *tx) RecordBundle(ctx context.Context, rec storage.BundleRecord) error {
	return putBundle(ctx, t.q, rec, t.now())
}

const accountColumns = `address, kind, owner, mint, amount, reserve, data`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*chain.Account, error) {
	var (
		addr, kind, owner, mint, amount, reserve string
		data                                     []byte
	)
	if err := row.Scan(&addr, &kind, &owner, &mint, &amount, &reserve, &data); err != nil {
		return nil, err
	}
	acct := &chain.Account{Kind: chain.AccountKind(kind)}
	var err error
	if acct.Address, err = address.Parse(addr); err != nil {
		return nil, fmt.Errorf("parse account address: %w", err)
	}
	if acct.Owner, err = address.Parse(owner); err != nil {
		return nil, fmt.Errorf("parse account owner: %w", err)
	}
	if acct.Mint, err = address.Parse(mint); err != nil {
		return nil, fmt.Errorf("parse account mint: %w", err)
	}
	if acct.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("parse account amount: %w", err)
	}
	if acct.Reserve, err = strconv.ParseUint(reserve, 10, 64); err != nil {
		return nil, fmt.Errorf("parse account reserve: %w", err)
	}
	if len(data) > 0 {
		acct.Data = json.RawMessage(data)
	}
	return acct, nil
}

func getAccount(ctx context.Context, q querier, addr address.Address) (*chain.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE address = ?`, addr.String())
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	return acct, nil
}

func listByOwner(ctx context.Context, q querier, owner address.Address, kind chain.AccountKind) ([]*chain.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner = ? AND kind = ? ORDER BY address`,
		owner.String(), string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts of %s: %w", owner, err)
	}
	defer rows.Close()

	var out []*chain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func getBundle(ctx context.Context, q querier, digest bundle.Digest) (storage.BundleRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT state, slot, failure_json, logs_json, recorded_at FROM bundles WHERE digest = ?`,
		digest.String(),
	)
	var (
		state       string
		slot        int64
		failureJSON sql.NullString
		logsJSON    string
		recordedAt  int64
	)
	if err := row.Scan(&state, &slot, &failureJSON, &logsJSON, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.BundleRecord{}, storage.ErrNotFound
		}
		return storage.BundleRecord{}, fmt.Errorf("get bundle %s: %w", digest, err)
	}
	rec := storage.BundleRecord{
		Digest:     digest,
		State:      chain.BundleState(state),
		Slot:       uint64(slot),
		RecordedAt: time.UnixMilli(recordedAt).UTC(),
	}
	if failureJSON.Valid {
		rec.Failure = &chain.Failure{}
		if err := json.Unmarshal([]byte(failureJSON.String), rec.Failure); err != nil {
			return storage.BundleRecord{}, fmt.Errorf("decode bundle failure: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(logsJSON), &rec.Logs); err != nil {
		return storage.BundleRecord{}, fmt.Errorf("decode bundle logs: %w", err)
	}
	return rec, nil
}

func putBundle(ctx context.Context, q querier, rec storage.BundleRecord, now time.Time) error {
	if rec.Digest.IsZero() {
		return fmt.Errorf("bundle digest is required")
	}
	var failureJSON sql.NullString
	if rec.Failure != nil {
		raw, err := json.Marshal(rec.Failure)
		if err != nil {
			return fmt.Errorf("encode bundle failure: %w", err)
		}
		failureJSON = sql.NullString{String: string(raw), Valid: true}
	}
	logs := rec.Logs
	if logs == nil {
		logs = []string{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encode bundle logs: %w", err)
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO bundles (digest, state, slot, failure_json, logs_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Digest.String(),
		string(rec.State),
		int64(rec.Slot),
		failureJSON,
		string(logsJSON),
		recordedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record bundle %s: %w", rec.Digest, err)
	}
	return nil
}
