package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/kiosk/internal/config"
	"github.com/your-org/kiosk/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Students ---

func (s *PostgresStore) CreateStudent(ctx context.Context, st models.Student) (*models.Student, error) {
	if st.Status == "" {
		st.Status = models.StudentActive
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO students (name, class_name, student_id, email, points, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		st.Name, st.ClassName, st.StudentID, st.Email, st.Points, st.Status,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create student %s: %w", st.Name, ErrConflict)
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	return &st, nil
}

const studentColumns = `name, class_name, student_id, email, points, status, created_at, updated_at`

func scanStudent(row pgx.Row) (*models.Student, error) {
	var st models.Student
	err := row.Scan(&st.Name, &st.ClassName, &st.StudentID, &st.Email, &st.Points, &st.Status, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStudent returns nil, nil when the student does not exist.
func (s *PostgresStore) GetStudent(ctx context.Context, name string) (*models.Student, error) {
	st, err := scanStudent(s.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

// ListStudents returns all students, or one class when className is set.
func (s *PostgresStore) ListStudents(ctx context.Context, className string) ([]models.Student, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+studentColumns+` FROM students WHERE ($1 = '' OR class_name = $1) ORDER BY name`, className)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *st)
	}
	return students, rows.Err()
}

func (s *PostgresStore) UpdateStudentStatus(ctx context.Context, name string, status models.StudentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE students SET status = $1, updated_at = NOW() WHERE name = $2`, status, name)
	if err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update student status %s: %w", name, ErrNotFound)
	}
	return nil
}

// DeleteStudent removes the student with their cards, embeddings and point
// history. Attendance rows are kept.
func (s *PostgresStore) DeleteStudent(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM students WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete student: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AdjustPoints adds delta to the balance, clamped to [0,100], and records the
// change in point_history.
func (s *PostgresStore) AdjustPoints(ctx context.Context, name string, delta int, reason string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin adjust points: %w", err)
	}
	defer tx.Rollback(ctx)

	var points int
	err = tx.QueryRow(ctx,
		`UPDATE students SET points = LEAST($3, GREATEST($2, points + $4)), updated_at = NOW()
		 WHERE name = $1 RETURNING points`,
		name, models.MinPoints, models.MaxPoints, delta,
	).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("adjust points %s: %w", name, ErrNotFound)
		}
		return 0, fmt.Errorf("adjust points: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO point_history (student_name, change, new_total, reason) VALUES ($1, $2, $3, $4)`,
		name, delta, points, reason); err != nil {
		return 0, fmt.Errorf("record point history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit adjust points: %w", err)
	}
	return points, nil
}

func (s *PostgresStore) PointHistory(ctx context.Context, name string) ([]models.PointAdjustment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT student_name, change, new_total, reason, created_at FROM point_history
		 WHERE student_name = $1 ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("list point history: %w", err)
	}
	defer rows.Close()

	var history []models.PointAdjustment
	for rows.Next() {
		var p models.PointAdjustment
		if err := rows.Scan(&p.StudentName, &p.Change, &p.NewTotal, &p.Reason, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan point history: %w", err)
		}
		history = append(history, p)
	}
	return history, rows.Err()
}

// --- RFID cards ---

func (s *PostgresStore) AddCard(ctx context.Context, cardID, name string) (*models.RFIDCard, error) {
	card := &models.RFIDCard{CardID: models.NormalizeCardID(cardID), StudentName: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rfid_cards (card_id, student_name) VALUES ($1, $2) RETURNING created_at`,
		card.CardID, card.StudentName,
	).Scan(&card.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("add card %s: %w", card.CardID, ErrConflict)
		}
		return nil, fmt.Errorf("add card: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) RemoveCard(ctx context.Context, cardID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rfid_cards WHERE card_id = $1`, models.NormalizeCardID(cardID))
	if err != nil {
		return false, fmt.Errorf("remove card: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) LookupCard(ctx context.Context, cardID string) (string, bool, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT student_name FROM rfid_cards WHERE card_id = $1`, models.NormalizeCardID(cardID),
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup card: %w", err)
	}
	return name, true, nil
}

func (s *PostgresStore) ListCards(ctx context.Context, name string) ([]models.RFIDCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT card_id, student_name, created_at FROM rfid_cards WHERE student_name = $1 ORDER BY created_at`, name)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.RFIDCard
	for rows.Next() {
		var c models.RFIDCard
		if err := rows.Scan(&c.CardID, &c.StudentName, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// --- Face embeddings ---

// Load returns the gallery in insertion order.
func (s *PostgresStore) Load(ctx context.Context) ([][]float32, []string, error) {
	rows, err := s.pool.Query(ctx, `SELECT student_name, embedding FROM face_embeddings ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var (
		vectors    [][]float32
		identities []string
	)
	for rows.Next() {
		var (
			name string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan embedding: %w", err)
		}
		vectors = append(vectors, vec.Slice())
		identities = append(identities, name)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load embeddings: %w", err)
	}
	return vectors, identities, nil
}

// Save replaces the whole gallery in one transaction.
func (s *PostgresStore) Save(ctx context.Context, vectors [][]float32, identities []string) error {
	if len(vectors) != len(identities) {
		return ErrLengthMismatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save embeddings: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM face_embeddings`); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}

	batch := &pgx.Batch{}
	for i, v := range vectors {
		batch.Queue(`INSERT INTO face_embeddings (id, student_name, embedding) VALUES ($1, $2, $3)`,
			uuid.New(), identities[i], pgvector.NewVector(v))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert embeddings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit embeddings: %w", err)
	}
	return nil
}

// --- Attendance ---

const attendanceColumns = `to_char(date, 'YYYY-MM-DD'), student_name, time_in, confidence,
	verification_method, status, class_name, snapshot_key`

func scanAttendance(row pgx.Row) (models.AttendanceRecord, error) {
	var r models.AttendanceRecord
	err := row.Scan(&r.Date, &r.StudentName, &r.TimeIn, &r.Confidence,
		&r.VerificationMethod, &r.Status, &r.ClassName, &r.SnapshotKey)
	return r, err
}

// Get returns the day's records keyed by student name.
func (s *PostgresStore) Get(ctx context.Context, date string) (map[string]models.AttendanceRecord, error) {
	day, err := parseDate(date)
	if err != nil || day == nil {
		return nil, ErrInvalidDate
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE date = $1`, day)
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.AttendanceRecord)
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out[rec.StudentName] = rec
	}
	return out, rows.Err()
}

// Put upserts the record for (date, identity).
func (s *PostgresStore) Put(ctx context.Context, date, identity string, rec models.AttendanceRecord) error {
	day, err := parseDate(date)
	if err != nil || day == nil {
		return ErrInvalidDate
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO attendance (date, student_name, time_in, confidence, verification_method, status, class_name, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (date, student_name) DO UPDATE SET
			time_in = EXCLUDED.time_in,
			confidence = EXCLUDED.confidence,
			verification_method = EXCLUDED.verification_method,
			status = EXCLUDED.status,
			class_name = EXCLUDED.class_name,
			snapshot_key = EXCLUDED.snapshot_key`,
		day, identity, rec.TimeIn, rec.Confidence, rec.VerificationMethod, rec.Status, rec.ClassName, rec.SnapshotKey)
	if err != nil {
		return fmt.Errorf("put attendance: %w", err)
	}
	return nil
}

// History returns a student's records between from and to inclusive, oldest
// first. Empty bounds are open.
func (s *PostgresStore) History(ctx context.Context, name, from, to string) ([]models.AttendanceRecord, error) {
	lo, hi, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE student_name = $1
		   AND ($2::date IS NULL OR date >= $2::date)
		   AND ($3::date IS NULL OR date <= $3::date)
		 ORDER BY date`,
		name, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("attendance history: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary counts present and late marks per day in [from, to].
func (s *PostgresStore) Summary(ctx context.Context, from, to string) ([]models.DailySummary, error) {
	lo, hi, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(date, 'YYYY-MM-DD'),
		        COUNT(*) FILTER (WHERE status = 'present'),
		        COUNT(*) FILTER (WHERE status = 'late')
		 FROM attendance
		 WHERE ($1::date IS NULL OR date >= $1::date) AND ($2::date IS NULL OR date <= $2::date)
		 GROUP BY date ORDER BY date`,
		lo, hi)
	if err != nil {
		return nil, fmt.Errorf("attendance summary: %w", err)
	}
	defer rows.Close()

	var out []models.DailySummary
	for rows.Next() {
		var d models.DailySummary
		if err := rows.Scan(&d.Date, &d.Present, &d.Late); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
