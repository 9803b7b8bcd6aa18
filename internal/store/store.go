// Package store persists transaction detail records in SQLite, keyed by
// reference number. Re-observing the same transaction within a day is the
// normal case, so writes are upserts: insert new rows, overwrite mutable
// fields on conflict.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/timezone"

	_ "modernc.org/sqlite"
)

var ErrPersistence = errors.New("store operation failed")

// Store wraps the SQLite handle. Safe for concurrent readers; the single
// monitor loop is the only writer.
type Store struct {
	db *sql.DB
}

// StoredTransaction is a persisted detail record plus the store-managed
// lifecycle timestamps.
type StoredTransaction struct {
	qris.Detail
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Filter narrows Query results. Zero-value fields are ignored; set fields
// combine with AND.
type Filter struct {
	// Date matches the day of auth_date, in compact YYYYMMDD form.
	Date string
	// Customer is a case-insensitive substring of customer_name.
	Customer string
	// Amount is an exact match on auth_amount_number.
	Amount *float64
	// Limit caps the result set; 0 means the default of 100.
	Limit int
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistence, path, err)
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory database, for tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the schema if absent. Safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		reff_number            TEXT PRIMARY KEY,
		seq_number             TEXT,
		transfer_flag          TEXT,
		transfer_amount        TEXT,
		transfer_amount_number REAL,
		fee_amount             TEXT,
		fee_amount_number      REAL,
		auth_amount            TEXT,
		auth_amount_number     REAL,
		percentage_fee         TEXT,
		percentage_fee_number  REAL,
		issuer_name            TEXT,
		customer_name          TEXT,
		merchant_pan           TEXT,
		terminal_id            TEXT,
		customer_pan           TEXT,
		auth_date              TEXT,
		update_date            TEXT,
		settlement_date        TEXT,
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_auth_date ON transactions(auth_date);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", ErrPersistence, err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO transactions (
	reff_number, seq_number, transfer_flag,
	transfer_amount, transfer_amount_number,
	fee_amount, fee_amount_number,
	auth_amount, auth_amount_number,
	percentage_fee, percentage_fee_number,
	issuer_name, customer_name, merchant_pan, terminal_id, customer_pan,
	auth_date, update_date, settlement_date,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(reff_number) DO UPDATE SET
	seq_number=excluded.seq_number,
	transfer_flag=excluded.transfer_flag,
	transfer_amount=excluded.transfer_amount,
	transfer_amount_number=excluded.transfer_amount_number,
	fee_amount=excluded.fee_amount,
	fee_amount_number=excluded.fee_amount_number,
	auth_amount=excluded.auth_amount,
	auth_amount_number=excluded.auth_amount_number,
	percentage_fee=excluded.percentage_fee,
	percentage_fee_number=excluded.percentage_fee_number,
	issuer_name=excluded.issuer_name,
	customer_name=excluded.customer_name,
	merchant_pan=excluded.merchant_pan,
	terminal_id=excluded.terminal_id,
	customer_pan=excluded.customer_pan,
	auth_date=excluded.auth_date,
	update_date=excluded.update_date,
	settlement_date=excluded.settlement_date,
	updated_at=excluded.updated_at
`

// UpsertDetails writes a batch of detail records in one transaction and
// returns the number of rows written. Records without a reference number are
// skipped silently (partial rows the portal emits mid-settlement). Any
// failure rolls the whole batch back; there is no partial credit.
func (s *Store) UpsertDetails(ctx context.Context, details []qris.Detail) (int, error) {
	if len(details) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare upsert: %v", ErrPersistence, err)
	}
	defer func() { _ = stmt.Close() }()

	now := timezone.Now().Format(time.RFC3339Nano)
	written := 0
	for _, d := range details {
		if !d.HasReff() {
			continue
		}

		_, err := stmt.ExecContext(ctx,
			d.ReffNumber, d.SeqNumber, d.TransferFlag,
			d.TransferAmount, d.TransferAmountNumber,
			d.FeeAmount, d.FeeAmountNumber,
			d.AuthAmount, d.AuthAmountNumber,
			d.PercentageFee, d.PercentageFeeNumber,
			d.IssuerName, d.CustomerName, d.MerchantPan, d.TerminalID, d.CustomerPan,
			d.AuthDate, d.UpdateDate, d.SettlementDate,
			now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: upsert %s: %v", ErrPersistence, d.ReffNumber, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return written, nil
}

// Count returns the number of stored transactions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrPersistence, err)
	}
	return count, nil
}

// GetByReff looks up one transaction by reference number. Returns nil when
// absent.
func (s *Store) GetByReff(ctx context.Context, reffNumber string) (*StoredTransaction, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM transactions WHERE reff_number = ?`, reffNumber)

	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrPersistence, reffNumber, err)
	}
	return txn, nil
}

// Query lists transactions matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]StoredTransaction, error) {
	var conds []string
	var args []any

	if f.Date != "" {
		// auth_date arrives in either dashed or compact form depending on
		// portal revision; match the day prefix of both.
		dashed := f.Date
		if len(f.Date) == 8 && !strings.Contains(f.Date, "-") {
			dashed = f.Date[:4] + "-" + f.Date[4:6] + "-" + f.Date[6:]
		}
		conds = append(conds, `(auth_date LIKE ? OR auth_date LIKE ?)`)
		args = append(args, f.Date+"%", dashed+"%")
	}
	if f.Customer != "" {
		conds = append(conds, `UPPER(customer_name) LIKE '%' || UPPER(?) || '%'`)
		args = append(args, f.Customer)
	}
	if f.Amount != nil {
		conds = append(conds, `auth_amount_number = ?`)
		args = append(args, *f.Amount)
	}

	query := selectColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY auth_date DESC, reff_number DESC LIMIT ?`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var results []StoredTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrPersistence, err)
		}
		results = append(results, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrPersistence, err)
	}
	return results, nil
}

// --- ROW MAPPING ---

const selectColumns = `SELECT
	reff_number, seq_number, transfer_flag,
	transfer_amount, transfer_amount_number,
	fee_amount, fee_amount_number,
	auth_amount, auth_amount_number,
	percentage_fee, percentage_fee_number,
	issuer_name, customer_name, merchant_pan, terminal_id, customer_pan,
	auth_date, update_date, settlement_date,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*StoredTransaction, error) {
	var txn StoredTransaction
	var transferNum, feeNum, authNum, pctNum sql.NullFloat64
	var seq, flag, transferAmt, feeAmt, authAmt, pctFee sql.NullString
	var issuer, customer, merchantPan, terminalID, customerPan sql.NullString
	var authDate, updateDate, settlementDate sql.NullString

	err := row.Scan(
		&txn.ReffNumber, &seq, &flag,
		&transferAmt, &transferNum,
		&feeAmt, &feeNum,
		&authAmt, &authNum,
		&pctFee, &pctNum,
		&issuer, &customer, &merchantPan, &terminalID, &customerPan,
		&authDate, &updateDate, &settlementDate,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.SeqNumber = seq.String
	txn.TransferFlag = flag.String
	txn.TransferAmount = transferAmt.String
	txn.FeeAmount = feeAmt.String
	txn.AuthAmount = authAmt.String
	txn.PercentageFee = pctFee.String
	txn.IssuerName = issuer.String
	txn.CustomerName = customer.String
	txn.MerchantPan = merchantPan.String
	txn.TerminalID = terminalID.String
	txn.CustomerPan = customerPan.String
	txn.AuthDate = authDate.String
	txn.UpdateDate = updateDate.String
	txn.SettlementDate = settlementDate.String

	txn.TransferAmountNumber = nullableFloat(transferNum)
	txn.FeeAmountNumber = nullableFloat(feeNum)
	txn.AuthAmountNumber = nullableFloat(authNum)
	txn.PercentageFeeNumber = nullableFloat(pctNum)

	return &txn, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
