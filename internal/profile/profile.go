// Package profile provides PostgreSQL-backed storage for student accounts and
// their screening attributes. The matching core consumes it through the
// narrow attribute-lookup interface; the HTTP API uses the full account CRUD.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when no student exists for the given identifier.
var ErrNotFound = errors.New("profile: student not found")

// Attributes are the matching inputs: a categorical feeling tag and the four
// screening scores (PHQ-9, BDI-II, GAD-7, DASS-21).
type Attributes struct {
	Feeling string `json:"feeling"`
	PHQ9    int    `json:"phq9"`
	BDI2    int    `json:"bdi2"`
	GAD7    int    `json:"gad7"`
	DASS21  int    `json:"dass21"`
}

// Scores returns the four screening scores as a fixed-order vector, which is
// what the proximity comparison in the matcher operates on.
func (a Attributes) Scores() [4]int {
	return [4]int{a.PHQ9, a.BDI2, a.GAD7, a.DASS21}
}

// Student is a registered account row.
type Student struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Attributes   Attributes
	CreatedAt    time.Time
}

// StudentID returns the opaque string identifier the coordinator uses for
// this student in queue entries, rendezvous records, and JWT subjects.
func (s *Student) StudentID() string {
	return strconv.FormatInt(s.ID, 10)
}

// Store manages student accounts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new student account and returns the stored row.
func (s *Store) Create(ctx context.Context, username, email, passwordHash string, attrs Attributes) (*Student, error) {
	const query = `
		INSERT INTO students (username, email, password_hash, phq9, bdi2, gad7, dass21, feeling)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	st := &Student{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Attributes:   attrs,
	}
	err := s.db.QueryRowContext(ctx, query,
		username, email, passwordHash,
		attrs.PHQ9, attrs.BDI2, attrs.GAD7, attrs.DASS21, attrs.Feeling,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("profile: insert student: %w", err)
	}
	return st, nil
}

// GetByEmail retrieves a student by email address. Returns ErrNotFound if no
// account exists for the address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Student, error) {
	const query = `
		SELECT id, username, email, password_hash, phq9, bdi2, gad7, dass21, feeling, created_at
		FROM students
		WHERE email = $1`

	return s.scanStudent(s.db.QueryRowContext(ctx, query, email))
}

// GetByID retrieves a student by its opaque string identifier. Returns
// ErrNotFound for unparseable or unknown identifiers.
func (s *Store) GetByID(ctx context.Context, studentID string) (*Student, error) {
	id, err := strconv.ParseInt(studentID, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}

	const query = `
		SELECT id, username, email, password_hash, phq9, bdi2, gad7, dass21, feeling, created_at
		FROM students
		WHERE id = $1`

	return s.scanStudent(s.db.QueryRowContext(ctx, query, id))
}

// GetAttributes returns the matching attributes for a student. It is the
// lookup the matcher performs on every connect attempt.
func (s *Store) GetAttributes(ctx context.Context, studentID string) (*Attributes, error) {
	st, err := s.GetByID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	attrs := st.Attributes
	return &attrs, nil
}

// UpdateScores replaces a student's screening scores and feeling tag.
func (s *Store) UpdateScores(ctx context.Context, studentID string, attrs Attributes) error {
	id, err := strconv.ParseInt(studentID, 10, 64)
	if err != nil {
		return ErrNotFound
	}

	const query = `
		UPDATE students
		SET phq9 = $1, bdi2 = $2, gad7 = $3, dass21 = $4, feeling = $5
		WHERE id = $6`

	res, err := s.db.ExecContext(ctx, query,
		attrs.PHQ9, attrs.BDI2, attrs.GAD7, attrs.DASS21, attrs.Feeling, id)
	if err != nil {
		return fmt.Errorf("profile: update scores: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanStudent(row *sql.Row) (*Student, error) {
	var st Student
	err := row.Scan(
		&st.ID, &st.Username, &st.Email, &st.PasswordHash,
		&st.Attributes.PHQ9, &st.Attributes.BDI2, &st.Attributes.GAD7, &st.Attributes.DASS21,
		&st.Attributes.Feeling, &st.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: query student: %w", err)
	}
	return &st, nil
}
