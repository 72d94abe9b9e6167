package cropdoc

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB records classification history so past results can be fetched back by
// id. Writes are best-effort from the caller's point of view; a failed
// insert never fails the classification that produced it.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// Record is one stored classification. Advice holds the marshalled advice
// JSON when advice was generated for the request, otherwise empty.
type Record struct {
	Id               int64
	CreatedAt        time.Time
	CropType         string
	PredictedDisease string
	Confidence       float64
	IsHealthy        bool
	Description      string
	Filename         string
	FileSize         int64
	Notes            string
	Advice           string
}

func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		return nil, err
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

// InsertRecord stores a classification and fills in the record's Id and
// CreatedAt.
func (db *DB) InsertRecord(ctx context.Context, rec *Record) error {
	rec.CreatedAt = time.Now().UTC()

	res, err := db.db.ExecContext(ctx, `
		INSERT INTO classifications
		(created_at, crop_type, predicted_disease, confidence, is_healthy,
		 description, filename, file_size, notes, advice)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.CreatedAt,
		rec.CropType,
		rec.PredictedDisease,
		rec.Confidence,
		rec.IsHealthy,
		rec.Description,
		rec.Filename,
		rec.FileSize,
		rec.Notes,
		rec.Advice,
	)
	if err != nil {
		return fmt.Errorf("inserting classification: %w", err)
	}

	rec.Id, err = res.LastInsertId()
	return err
}

// GetRecord retrieves a stored classification by id. A missing id reports
// sql.ErrNoRows.
func (db *DB) GetRecord(ctx context.Context, id int64) (*Record, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, created_at, crop_type, predicted_disease, confidence,
		       is_healthy, description, filename, file_size, notes, advice
		FROM classifications
		WHERE id=?`, id)

	rec := &Record{}
	if err := scanRecord(row.Scan, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentRecords returns up to limit classifications, newest first.
func (db *DB) RecentRecords(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, created_at, crop_type, predicted_disease, confidence,
		       is_healthy, description, filename, file_size, notes, advice
		FROM classifications
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec := &Record{}
		if err := scanRecord(rows.Scan, rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

func scanRecord(scan func(...any) error, rec *Record) error {
	var desc, fname, notes, adv sql.NullString
	var size sql.NullInt64

	err := scan(
		&rec.Id,
		&rec.CreatedAt,
		&rec.CropType,
		&rec.PredictedDisease,
		&rec.Confidence,
		&rec.IsHealthy,
		&desc,
		&fname,
		&size,
		&notes,
		&adv,
	)
	if err != nil {
		return err
	}

	rec.Description = desc.String
	rec.Filename = fname.String
	rec.FileSize = size.Int64
	rec.Notes = notes.String
	rec.Advice = adv.String
	return nil
}
