// Package db is the primary durable store for saved predictions, backed by
// SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"educare/ml"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS students (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        attendance REAL DEFAULT 0,
        cgpa REAL DEFAULT 0,
        stress REAL DEFAULT 0,
        risk TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS parents (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL DEFAULT '',
        student_id TEXT NOT NULL REFERENCES students(id),
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        generation TEXT NOT NULL,
        training_size INTEGER NOT NULL,
        n_estimators INTEGER NOT NULL,
        max_depth INTEGER,
        cv_score REAL,
        trained_at DATETIME NOT NULL
    );
    `

var ErrNotOpen = errors.New("database not initialized")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the SQLite file at path and creates the tables.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Attendance float64   `json:"attendance"`
	CGPA       float64   `json:"cgpa"`
	Stress     float64   `json:"stress"`
	Risk       string    `json:"risk"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SavePredictions writes one student per record, plus a parent linked to it
// when the record names one. Records are written one at a time; on error the
// ids of the students already written are returned with it.
func (s *Store) SavePredictions(ctx context.Context, records []ml.Row) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}

	ids := make([]string, 0, len(records))
	for i, rec := range records {
		now := s.now()
		student := studentFromRecord(rec)
		student.ID = uuid.NewString()

		_, err := s.db.ExecContext(ctx, `
        INSERT INTO students (id, name, attendance, cgpa, stress, risk, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
			student.ID, student.Name, student.Attendance, student.CGPA, student.Stress, student.Risk, now)
		if err != nil {
			return ids, fmt.Errorf("insert student %d: %w", i, err)
		}
		ids = append(ids, student.ID)

		name, email := parentFromRecord(rec)
		if name == "" {
			continue
		}
		_, err = s.db.ExecContext(ctx, `
        INSERT INTO parents (id, name, email, student_id, created_at)
        VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), name, email, student.ID, now)
		if err != nil {
			return ids, fmt.Errorf("insert parent %d: %w", i, err)
		}
	}
	return ids, nil
}

func studentFromRecord(rec ml.Row) Student {
	risk := stringField(rec, "risk")
	if risk == "" {
		risk = ml.LabelLow
	}
	return Student{
		Name:       stringField(rec, "name"),
		Attendance: floatField(rec, "Attendance"),
		CGPA:       floatField(rec, "CGPA"),
		Stress:     floatField(rec, "Stress"),
		Risk:       risk,
	}
}

func parentFromRecord(rec ml.Row) (string, string) {
	return stringField(rec, "parentName"), stringField(rec, "parentEmail")
}

func stringField(rec ml.Row, key string) string {
	v, ok := rec.Lookup(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func floatField(rec ml.Row, key string) float64 {
	v, _ := rec.Lookup(key)
	f, _ := ml.ToFloat(v)
	return f
}

// Students returns saved students, newest first.
func (s *Store) Students(ctx context.Context, limit int) ([]Student, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, attendance, cgpa, stress, risk, created_at
        FROM students
        ORDER BY created_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := make([]Student, 0)
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Attendance, &st.CGPA, &st.Stress, &st.Risk, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

type TrainingLog struct {
	Generation   string    `json:"generation"`
	TrainingSize int       `json:"training_size"`
	NEstimators  int       `json:"n_estimators"`
	MaxDepth     *int      `json:"max_depth"`
	CVScore      *float64  `json:"cv_score,omitempty"`
	TrainedAt    time.Time `json:"trained_at"`
}

// RecordTraining appends one training run to the log.
func (s *Store) RecordTraining(ctx context.Context, meta ml.Meta) error {
	if s == nil || s.db == nil {
		return ErrNotOpen
	}
	var params ml.Params
	if meta.Params != nil {
		params = *meta.Params
	}
	var maxDepth sql.NullInt64
	if params.MaxDepth != nil {
		maxDepth = sql.NullInt64{Int64: int64(*params.MaxDepth), Valid: true}
	}
	var cv sql.NullFloat64
	if meta.CVScore != nil {
		cv = sql.NullFloat64{Float64: *meta.CVScore, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (generation, training_size, n_estimators, max_depth, cv_score, trained_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		meta.Generation, meta.TrainingSize, params.NEstimators, maxDepth, cv, meta.TrainedAt.UTC())
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT generation, training_size, n_estimators, max_depth, cv_score, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var maxDepth sql.NullInt64
		var cv sql.NullFloat64
		if err := rows.Scan(&log.Generation, &log.TrainingSize, &log.NEstimators, &maxDepth, &cv, &log.TrainedAt); err != nil {
			return nil, err
		}
		if maxDepth.Valid {
			d := int(maxDepth.Int64)
			log.MaxDepth = &d
		}
		if cv.Valid {
			score := cv.Float64
			log.CVScore = &score
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
