package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"audio-converter/models"

	"github.com/lib/pq"
)

// ErrNotPending is returned by MarkComplete when the row is missing or has
// already left the pending state.
var ErrNotPending = errors.New("record is not pending")

type DatabaseService struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

func NewDatabaseService(databaseURL, table string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewDatabaseServiceWithDB(db, table), nil
}

func NewDatabaseServiceWithDB(db *sql.DB, table string) *DatabaseService {
	return &DatabaseService{db: db, table: pq.QuoteIdentifier(table), now: time.Now}
}

func (d *DatabaseService) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// FetchPending returns up to limit pending records with an id greater than
// afterID, oldest first.
func (d *DatabaseService) FetchPending(ctx context.Context, limit int, afterID int64) ([]models.ConversionRecord, error) {
	query := fmt.Sprintf(
		`SELECT id, audio_file_url, created_by FROM %s WHERE status = $1 AND id > $2 ORDER BY id LIMIT $3`,
		d.table,
	)
	rows, err := d.db.QueryContext(ctx, query, string(models.StatusPending), afterID, limit)
	if err != nil {
		return nil, models.StageErrorf(models.KindStore, "query pending records: %w", err)
	}
	defer rows.Close()

	var records []models.ConversionRecord
	for rows.Next() {
		rec := models.ConversionRecord{Status: models.StatusPending}
		var owner sql.NullString
		if err := rows.Scan(&rec.ID, &rec.AudioLocation, &owner); err != nil {
			return nil, models.StageErrorf(models.KindStore, "scan pending record: %w", err)
		}
		rec.OwnerID = owner.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StageErrorf(models.KindStore, "iterate pending records: %w", err)
	}
	return records, nil
}

// IsPending reports whether the record is still pending. A missing row is
// not pending.
func (d *DatabaseService) IsPending(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, d.table)
	var status string
	err := d.db.QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, models.StageErrorf(models.KindStore, "read status of record %d: %w", id, err)
	}
	return models.Status(status) == models.StatusPending, nil
}

// MarkComplete sets status, artifact url, document id and updated_at in one
// transaction. Nothing is written unless exactly one pending row matched.
func (d *DatabaseService) MarkComplete(ctx context.Context, id int64, artifactURL, documentID string) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return models.StageErrorf(models.KindStore, "begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(
		`UPDATE %s SET txt_file_url = $1, document_id = $2, status = $3, updated_at = $4 WHERE id = $5 AND status = $6`,
		d.table,
	)
	res, err := tx.ExecContext(ctx, query,
		artifactURL, documentID, string(models.StatusComplete), d.now().UTC(), id, string(models.StatusPending))
	if err != nil {
		return models.StageErrorf(models.KindStore, "update record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.StageErrorf(models.KindStore, "rows affected for record %d: %w", id, err)
	}
	if n != 1 {
		return models.StageErrorf(models.KindStore, "update record %d: %w", id, ErrNotPending)
	}

	if err = tx.Commit(); err != nil {
		return models.StageErrorf(models.KindStore, "commit record %d: %w", id, err)
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the error message. Once
// attempt_count reaches maxAttempts the record moves to failed and is no
// longer fetched. It reports whether that happened.
func (d *DatabaseService) RecordFailure(ctx context.Context, id int64, errorMsg string, maxAttempts int) (bool, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET attempt_count = attempt_count + 1, last_error = $1, updated_at = $2,
			status = CASE WHEN attempt_count + 1 >= $3 THEN $4 ELSE status END
		WHERE id = $5 AND status = $6
		RETURNING status`,
		d.table,
	)
	var status string
	err := d.db.QueryRowContext(ctx, query,
		errorMsg, d.now().UTC(), maxAttempts, string(models.StatusFailed), id, string(models.StatusPending),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.StageErrorf(models.KindStore, "record failure %d: %w", id, ErrNotPending)
	}
	if err != nil {
		return false, models.StageErrorf(models.KindStore, "record failure %d: %w", id, err)
	}
	return models.Status(status) == models.StatusFailed, nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
