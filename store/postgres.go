package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/ruteri/confidential-loan-ledger/interfaces"
)

//go:embed schema.sql
var schema string

const defaultTxTimeout = 5 * time.Second

// PostgresStore persists ledger state in PostgreSQL. Events are written to the
// ledger_outbox table in the same transaction as the state change they describe.
type PostgresStore struct {
	db      *sql.DB
	log     *slog.Logger
	timeout time.Duration
}

// NewPostgresStore connects to dsn, checks connectivity and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgresStoreFromDB(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStoreFromDB(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log, timeout: defaultTxTimeout}
}

// Migrate creates missing tables. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	return s.runInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	return s.runInTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) runInTx(ctx context.Context, opts *sql.TxOptions, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *postgresTx) NextApplicationID(ctx context.Context) (interfaces.ApplicationID, error) {
	var id int64
	if err := p.tx.QueryRowContext(ctx, `SELECT nextval('application_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate application id: %w", err)
	}
	return interfaces.ApplicationID(id), nil
}

func (p *postgresTx) PutApplication(ctx context.Context, app interfaces.EncryptedApplication) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO applications (id, applicant, enc_farm_data, enc_yield, enc_loan_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, int64(app.ID), app.Applicant.Bytes(), app.EncFarmData[:], app.EncYield[:], app.EncLoanAmount[:], app.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (p *postgresTx) GetApplication(ctx context.Context, id interfaces.ApplicationID) (interfaces.EncryptedApplication, error) {
	var (
		app                        interfaces.EncryptedApplication
		applicant, farm, yld, loan []byte
		appID                      int64
	)
	err := p.tx.QueryRowContext(ctx, `
		SELECT id, applicant, enc_farm_data, enc_yield, enc_loan_amount, created_at
		FROM applications WHERE id = $1
	`, int64(id)).Scan(&appID, &applicant, &farm, &yld, &loan, &app.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.EncryptedApplication{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.EncryptedApplication{}, fmt.Errorf("select application: %w", err)
	}

	app.ID = interfaces.ApplicationID(appID)
	app.Applicant = common.BytesToAddress(applicant)
	copy(app.EncFarmData[:], farm)
	copy(app.EncYield[:], yld)
	copy(app.EncLoanAmount[:], loan)
	app.CreatedAt = app.CreatedAt.UTC()
	return app, nil
}

func (p *postgresTx) PutRevealed(ctx context.Context, id interfaces.ApplicationID, rev interfaces.RevealedApplication) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO revealed_applications (application_id, farm_data, yield_prediction, recommended_loan, revealed, revealed_at, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (application_id) DO UPDATE SET
			farm_data = EXCLUDED.farm_data,
			yield_prediction = EXCLUDED.yield_prediction,
			recommended_loan = EXCLUDED.recommended_loan,
			revealed = EXCLUDED.revealed,
			revealed_at = EXCLUDED.revealed_at,
			request_id = EXCLUDED.request_id
	`, int64(id), rev.FarmData, rev.YieldPrediction, strconv.FormatUint(rev.RecommendedLoan, 10),
		rev.Revealed, nullTime(rev.RevealedAt), string(rev.RequestID))
	if err != nil {
		return fmt.Errorf("upsert revealed application: %w", err)
	}
	return nil
}

func (p *postgresTx) GetRevealed(ctx context.Context, id interfaces.ApplicationID) (interfaces.RevealedApplication, error) {
	var (
		rev        interfaces.RevealedApplication
		loan       string
		revealedAt sql.NullTime
		requestID  string
	)
	err := p.tx.QueryRowContext(ctx, `
		SELECT farm_data, yield_prediction, recommended_loan::TEXT, revealed, revealed_at, request_id
		FROM revealed_applications WHERE application_id = $1
	`, int64(id)).Scan(&rev.FarmData, &rev.YieldPrediction, &loan, &rev.Revealed, &revealedAt, &requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.RevealedApplication{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.RevealedApplication{}, fmt.Errorf("select revealed application: %w", err)
	}

	rev.RecommendedLoan, err = strconv.ParseUint(loan, 10, 64)
	if err != nil {
		return interfaces.RevealedApplication{}, fmt.Errorf("parse recommended loan: %w", err)
	}
	if revealedAt.Valid {
		rev.RevealedAt = revealedAt.Time.UTC()
	}
	rev.RequestID = interfaces.RequestID(requestID)
	return rev, nil
}

func (p *postgresTx) PutPending(ctx context.Context, req interfaces.PendingRequest) error {
	var digest []byte
	if req.Target.Kind == interfaces.CategoryTarget {
		digest = req.Target.Category[:]
	}
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO pending_requests (request_id, target_kind, application_id, category_digest, requester, counter_version, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(req.RequestID), int16(req.Target.Kind), int64(req.Target.ApplicationID), digest,
		req.Requester.Bytes(), int64(req.CounterVersion), req.IssuedAt, nullTime(req.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert pending request: %w", err)
	}
	return nil
}

func (p *postgresTx) GetPending(ctx context.Context, id interfaces.RequestID) (interfaces.PendingRequest, error) {
	row := p.tx.QueryRowContext(ctx, `
		SELECT request_id, target_kind, application_id, category_digest, requester, counter_version, issued_at, expires_at
		FROM pending_requests WHERE request_id = $1
	`, string(id))

	req, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.PendingRequest{}, interfaces.ErrUnknownRequest
	}
	if err != nil {
		return interfaces.PendingRequest{}, fmt.Errorf("select pending request: %w", err)
	}
	return req, nil
}

func scanPending(row rowScanner) (interfaces.PendingRequest, error) {
	var (
		req               interfaces.PendingRequest
		requestID         string
		kind              int16
		appID, version    int64
		digest, requester []byte
		expiresAt         sql.NullTime
	)
	if err := row.Scan(&requestID, &kind, &appID, &digest, &requester, &version, &req.IssuedAt, &expiresAt); err != nil {
		return interfaces.PendingRequest{}, err
	}

	req.RequestID = interfaces.RequestID(requestID)
	req.Target.Kind = interfaces.TargetKind(kind)
	req.Target.ApplicationID = interfaces.ApplicationID(appID)
	copy(req.Target.Category[:], digest)
	req.Requester = common.BytesToAddress(requester)
	req.CounterVersion = uint64(version)
	req.IssuedAt = req.IssuedAt.UTC()
	if expiresAt.Valid {
		req.ExpiresAt = expiresAt.Time.UTC()
	}
	return req, nil
}

func (p *postgresTx) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := p.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending requests: %w", err)
	}
	return n, nil
}

func (p *postgresTx) DeletePendingExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := p.tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending requests: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired pending requests rows affected: %w", err)
	}
	return int(rows), nil
}

func (p *postgresTx) GetCounter(ctx context.Context, label string) (interfaces.CategoryCounter, error) {
	var (
		c              interfaces.CategoryCounter
		digest, handle []byte
		version        int64
	)
	err := p.tx.QueryRowContext(ctx, `
		SELECT label, digest, handle, version, updated_at FROM category_counters WHERE label = $1
	`, label).Scan(&c.Label, &digest, &handle, &version, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.CategoryCounter{}, interfaces.ErrCategoryNotFound
	}
	if err != nil {
		return interfaces.CategoryCounter{}, fmt.Errorf("select category counter: %w", err)
	}

	copy(c.Digest[:], digest)
	copy(c.Handle[:], handle)
	c.Version = uint64(version)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (p *postgresTx) PutCounter(ctx context.Context, c interfaces.CategoryCounter) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO category_counters (label, digest, handle, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (label) DO UPDATE SET
			handle = EXCLUDED.handle,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, c.Label, c.Digest[:], c.Handle[:], int64(c.Version), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert category counter: %w", err)
	}
	return nil
}

func (p *postgresTx) AppendCategory(ctx context.Context, label string) error {
	_, err := p.tx.ExecContext(ctx, `INSERT INTO categories (label) VALUES ($1) ON CONFLICT (label) DO NOTHING`, label)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (p *postgresTx) Categories(ctx context.Context) ([]string, error) {
	rows, err := p.tx.QueryContext(ctx, `SELECT label FROM categories ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (p *postgresTx) PutRevealedCount(ctx context.Context, c interfaces.RevealedCount) error {
	_, err := p.tx.ExecContext(ctx, `
		INSERT INTO revealed_counts (label, count, version, request_id, revealed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (label) DO UPDATE SET
			count = EXCLUDED.count,
			version = EXCLUDED.version,
			request_id = EXCLUDED.request_id,
			revealed_at = EXCLUDED.revealed_at
	`, c.Label, strconv.FormatUint(c.Count, 10), int64(c.Version), string(c.RequestID), c.RevealedAt)
	if err != nil {
		return fmt.Errorf("upsert revealed count: %w", err)
	}
	return nil
}

func (p *postgresTx) GetRevealedCount(ctx context.Context, label string) (interfaces.RevealedCount, error) {
	var (
		c         interfaces.RevealedCount
		count     string
		version   int64
		requestID string
	)
	err := p.tx.QueryRowContext(ctx, `
		SELECT label, count::TEXT, version, request_id, revealed_at FROM revealed_counts WHERE label = $1
	`, label).Scan(&c.Label, &count, &version, &requestID, &c.RevealedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.RevealedCount{}, interfaces.ErrCategoryNotFound
	}
	if err != nil {
		return interfaces.RevealedCount{}, fmt.Errorf("select revealed count: %w", err)
	}

	c.Count, err = strconv.ParseUint(count, 10, 64)
	if err != nil {
		return interfaces.RevealedCount{}, fmt.Errorf("parse revealed count: %w", err)
	}
	c.Version = uint64(version)
	c.RequestID = interfaces.RequestID(requestID)
	c.RevealedAt = c.RevealedAt.UTC()
	return c, nil
}

func (p *postgresTx) AppendEvent(ctx context.Context, event interfaces.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = p.tx.ExecContext(ctx, `
		INSERT INTO ledger_outbox (kind, payload, created_at) VALUES ($1, $2, $3)
	`, string(event.Kind), payload, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (p *postgresTx) UnpublishedEvents(ctx context.Context, limit int) ([]interfaces.Event, error) {
	rows, err := p.tx.QueryContext(ctx, `
		SELECT seq, payload FROM ledger_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []interfaces.Event
	for rows.Next() {
		var (
			seq     int64
			payload []byte
			event   interfaces.Event
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("unmarshal outbox entry %d: %w", seq, err)
		}
		event.Seq = uint64(seq)
		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *postgresTx) MarkEventsPublished(ctx context.Context, upTo uint64) error {
	_, err := p.tx.ExecContext(ctx, `
		UPDATE ledger_outbox SET published_at = NOW() WHERE seq <= $1 AND published_at IS NULL
	`, int64(upTo))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
