package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudent returns the roster entry for a roll number, or nil when unknown.
func (r *Repository) FindStudent(ctx context.Context, rollNo string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT roll_no, name FROM students WHERE roll_no = $1
	`, rollNo)
	var s Student
	if err := row.Scan(&s.RollNo, &s.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// UpsertStudent adds a roster entry, or renames it when the roll number is
// already enrolled.
func (r *Repository) UpsertStudent(ctx context.Context, s Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (roll_no, name)
		VALUES ($1, $2)
		ON CONFLICT (roll_no) DO UPDATE SET name = EXCLUDED.name
	`, s.RollNo, s.Name)
	return err
}

// Find returns the row for (rollNo, lectureNumber, date), or nil when absent.
func (r *Repository) Find(ctx context.Context, rollNo string, lectureNumber int, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_no, name, lecture_number, date, subject, status, method, approved, recorded_at
		FROM attendance_records
		WHERE roll_no = $1 AND lecture_number = $2 AND date = $3
	`, rollNo, lectureNumber, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.RollNo, &rec.Name, &rec.LectureNumber, &rec.Date,
		&rec.Subject, &rec.Status, &rec.Method, &rec.Approved, &rec.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new row. The unique index on (roll_no, lecture_number, date)
// is the duplicate backstop; callers should check Find first for a friendlier
// message but a concurrent writer can still lose the race.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, roll_no, name, lecture_number, date, subject, status, method, approved)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING recorded_at
	`, rec.ID, rec.RollNo, rec.Name, rec.LectureNumber, rec.Date, rec.Subject, rec.Status, rec.Method, rec.Approved)
	if err := row.Scan(&rec.RecordedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// UpdateStatus overrides the status and method of an existing row.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, method Method) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $2, method = $3, recorded_at = NOW()
		WHERE id = $1
	`, id, status, method)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attendance row %s not found", id)
	}
	return nil
}

// ListByStudent returns every row for a student, oldest first.
func (r *Repository) ListByStudent(ctx context.Context, rollNo string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_no, name, lecture_number, date, subject, status, method, approved, recorded_at
		FROM attendance_records
		WHERE roll_no = $1
		ORDER BY date, lecture_number
	`, rollNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the newest rows for the capture view's side panel.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_no, name, lecture_number, date, subject, status, method, approved, recorded_at
		FROM attendance_records
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// StatusesFor returns the current status per roll number for one lecture,
// used to refresh the reconciliation roster from the authoritative state.
func (r *Repository) StatusesFor(ctx context.Context, lectureNumber int, date string) (map[string]Status, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT roll_no, status
		FROM attendance_records
		WHERE lecture_number = $1 AND date = $2
	`, lectureNumber, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Status)
	for rows.Next() {
		var rollNo string
		var status Status
		if err := rows.Scan(&rollNo, &status); err != nil {
			return nil, err
		}
		out[rollNo] = status
	}
	return out, rows.Err()
}

// ApproveLeaveRange flips a student's rows in the date range to the leave
// status and marks them approved. Returns the number of rows touched.
func (r *Repository) ApproveLeaveRange(ctx context.Context, rollNo string, status Status, fromDate, toDate string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET status = $2, approved = TRUE, recorded_at = NOW()
		WHERE roll_no = $1 AND date BETWEEN $3 AND $4
	`, rollNo, status, fromDate, toDate)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return err
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RollNo, &rec.Name, &rec.LectureNumber, &rec.Date,
			&rec.Subject, &rec.Status, &rec.Method, &rec.Approved, &rec.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
