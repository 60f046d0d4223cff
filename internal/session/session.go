package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lecture is the administrative unit attendance is recorded against.
// Immutable once created except for the active flag.
type Lecture struct {
	ID            string    `json:"id"`
	LectureNumber int       `json:"lectureNumber"`
	Date          string    `json:"date"`
	Subject       string    `json:"subject"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Oracle answers "is a lecture open right now, and which one".
type Oracle interface {
	Current(ctx context.Context) (*Lecture, error)
}

const cacheKey = "classtrack:lecture:current"

// Store manages lecture sessions in Postgres with a Redis cache of the
// active one, so the capture loop's re-queries stay off the database.
type Store struct {
	db    *sql.DB
	cache *redis.Client
}

// NewStore creates a store. The cache client may be nil.
func NewStore(db *sql.DB, cache *redis.Client) *Store {
	return &Store{db: db, cache: cache}
}

// Start opens a new lecture session. Any previously active lecture is
// deactivated first so at most one session is current.
func (s *Store) Start(ctx context.Context, lectureNumber int, date, subject string) (Lecture, error) {
	if lectureNumber <= 0 {
		return Lecture{}, errors.New("lecture number must be positive")
	}
	if date == "" || subject == "" {
		return Lecture{}, errors.New("date and subject required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Lecture{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE lectures SET is_active = FALSE WHERE is_active`); err != nil {
		return Lecture{}, err
	}

	lec := Lecture{
		ID:            uuid.NewString(),
		LectureNumber: lectureNumber,
		Date:          date,
		Subject:       subject,
		IsActive:      true,
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO lectures (id, lecture_number, date, subject, is_active)
		VALUES ($1,$2,$3,$4,TRUE)
		RETURNING created_at
	`, lec.ID, lec.LectureNumber, lec.Date, lec.Subject)
	if err := row.Scan(&lec.CreatedAt); err != nil {
		return Lecture{}, err
	}
	if err := tx.Commit(); err != nil {
		return Lecture{}, err
	}

	s.invalidate(ctx)
	return lec, nil
}

// End closes the active lecture. Returns the closed lecture, or nil when
// nothing was active.
func (s *Store) End(ctx context.Context) (*Lecture, error) {
	cur, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE lectures SET is_active = FALSE WHERE id = $1`, cur.ID); err != nil {
		return nil, err
	}
	cur.IsActive = false
	s.invalidate(ctx)
	return cur, nil
}

// Current returns the active lecture, or nil when none is open.
func (s *Store) Current(ctx context.Context) (*Lecture, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var lec Lecture
			if json.Unmarshal([]byte(raw), &lec) == nil {
				return &lec, nil
			}
		}
	}

	cur, err := s.current(ctx)
	if err != nil || cur == nil {
		return cur, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(cur); err == nil {
			// Short TTL: the cache only has to absorb the capture loop's
			// tick-rate re-queries, staleness past a few seconds is fine.
			s.cache.Set(ctx, cacheKey, raw, 5*time.Second)
		}
	}
	return cur, nil
}

// AddAttendee appends a roll number to the lecture's attendee set.
func (s *Store) AddAttendee(ctx context.Context, lectureID, rollNo string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lecture_attendees (lecture_id, roll_no)
		VALUES ($1, $2)
		ON CONFLICT (lecture_id, roll_no) DO NOTHING
	`, lectureID, rollNo)
	return err
}

func (s *Store) current(ctx context.Context) (*Lecture, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lecture_number, date, subject, is_active, created_at
		FROM lectures
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	`)
	var lec Lecture
	if err := row.Scan(&lec.ID, &lec.LectureNumber, &lec.Date, &lec.Subject, &lec.IsActive, &lec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &lec, nil
}

func (s *Store) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Del(ctx, cacheKey)
	}
}
