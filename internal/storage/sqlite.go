package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

// ErrNotFound is returned when an interview or report does not exist.
var ErrNotFound = errors.New("not found")

const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusTerminated = "terminated"
)

const (
	ReportPending   = "pending"
	ReportRunning   = "running"
	ReportCompleted = "completed"
	ReportFailed    = "failed"
)

const (
	ReportCompletion  = "completion"
	ReportTermination = "termination"
)

type Interview struct {
	ID              string     `json:"id"`
	CandidateName   string     `json:"candidate_name"`
	Role            string     `json:"role"`
	Level           string     `json:"level"`
	DurationSeconds int        `json:"duration_seconds"`
	Status          string     `json:"status"`
	IntroPlayed     bool       `json:"intro_played"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	AudioPath       string     `json:"audio_path,omitempty"`
}

// Closed reports whether the interview can no longer be started.
func (i Interview) Closed() bool {
	return i.Status == StatusCompleted || i.Status == StatusTerminated
}

// InterviewUpdate carries the fields to change; nil fields are kept.
type InterviewUpdate struct {
	Status      *string
	IntroPlayed *bool
	StartedAt   *time.Time
	EndedAt     *time.Time
	EndReason   *string
	AudioPath   *string
}

type ReportRequest struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	Kind        string    `json:"kind"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

type Report struct {
	InterviewID string    `json:"interview_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Content     string    `json:"content"`
	Preset      string    `json:"preset,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-interviewer.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"interviews table", `
		CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			candidate_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT '',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'scheduled',
			intro_played INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			ended_at TEXT,
			end_reason TEXT NOT NULL DEFAULT '',
			audio_path TEXT NOT NULL DEFAULT ''
		);`},
	{"transcript_chunks table", `
		CREATE TABLE IF NOT EXISTS transcript_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			interview_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			committed_at TEXT NOT NULL,
			FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
		);`},
	{"violations table", `
		CREATE TABLE IF NOT EXISTS violations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			interview_id TEXT NOT NULL,
			type TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
		);`},
	{"report_requests table", `
		CREATE TABLE IF NOT EXISTS report_requests (
			id TEXT NOT NULL,
			interview_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			requested_at TEXT NOT NULL,
			FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
		);`},
	{"reports table", `
		CREATE TABLE IF NOT EXISTS reports (
			interview_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			preset TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			FOREIGN KEY(interview_id) REFERENCES interviews(id) ON DELETE CASCADE
		);`},
	{"report_claims table", `
		CREATE TABLE IF NOT EXISTS report_claims (
			interview_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(interview_id, prompt_hash)
		);`},
	{"transcript index", "CREATE INDEX IF NOT EXISTS idx_transcript_interview ON transcript_chunks(interview_id, sequence)"},
	{"violations index", "CREATE INDEX IF NOT EXISTS idx_violations_interview ON violations(interview_id, ordinal)"},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, st := range schema {
		if _, err := s.db.Exec(st.ddl); err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateInterview(iv Interview) error {
	if strings.TrimSpace(iv.ID) == "" {
		return errors.New("interview id is required")
	}
	if iv.Status == "" {
		iv.Status = StatusScheduled
	}

	_, err := s.db.Exec(
		`INSERT INTO interviews(id, candidate_name, role, level, duration_seconds, status, intro_played)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		iv.ID,
		strings.TrimSpace(iv.CandidateName),
		strings.TrimSpace(iv.Role),
		strings.TrimSpace(iv.Level),
		iv.DurationSeconds,
		iv.Status,
		iv.IntroPlayed,
	)
	if err != nil {
		return fmt.Errorf("create interview %s: %w", iv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetInterview(id string) (Interview, error) {
	row := s.db.QueryRow(
		`SELECT id, candidate_name, role, level, duration_seconds, status, intro_played,
		        started_at, ended_at, end_reason, audio_path
		 FROM interviews WHERE id = ?`,
		id,
	)

	var iv Interview
	var startedAt, endedAt sql.NullString
	err := row.Scan(&iv.ID, &iv.CandidateName, &iv.Role, &iv.Level, &iv.DurationSeconds, &iv.Status,
		&iv.IntroPlayed, &startedAt, &endedAt, &iv.EndReason, &iv.AudioPath)
	if errors.Is(err, sql.ErrNoRows) {
		return Interview{}, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Interview{}, fmt.Errorf("query interview %s: %w", id, err)
	}

	if iv.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Interview{}, fmt.Errorf("parse interview %s started_at: %w", id, err)
	}
	if iv.EndedAt, err = parseNullTime(endedAt); err != nil {
		return Interview{}, fmt.Errorf("parse interview %s ended_at: %w", id, err)
	}
	return iv, nil
}

func (s *SQLiteStore) UpdateInterview(id string, upd InterviewUpdate) error {
	var sets []string
	var args []any
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.IntroPlayed != nil {
		sets = append(sets, "intro_played = ?")
		args = append(args, *upd.IntroPlayed)
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTime(*upd.StartedAt))
	}
	if upd.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, formatTime(*upd.EndedAt))
	}
	if upd.EndReason != nil {
		sets = append(sets, "end_reason = ?")
		args = append(args, *upd.EndReason)
	}
	if upd.AudioPath != nil {
		sets = append(sets, "audio_path = ?")
		args = append(args, *upd.AudioPath)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE interviews SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update interview %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update interview rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AppendTranscript(interviewID string, chunk transcribe.Chunk) error {
	_, err := s.db.Exec(
		`INSERT INTO transcript_chunks(interview_id, speaker, text, sequence, committed_at) VALUES(?, ?, ?, ?, ?)`,
		interviewID,
		string(chunk.Speaker),
		strings.TrimSpace(chunk.Text),
		chunk.Sequence,
		formatTime(chunk.CommittedAt),
	)
	if err != nil {
		return fmt.Errorf("append transcript for interview %s: %w", interviewID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTranscript(interviewID string) ([]transcribe.Chunk, error) {
	rows, err := s.db.Query(
		`SELECT speaker, text, sequence, committed_at
		 FROM transcript_chunks
		 WHERE interview_id = ?
		 ORDER BY sequence ASC, id ASC`,
		interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript for interview %s: %w", interviewID, err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]transcribe.Chunk, 0, 32)
	for rows.Next() {
		var c transcribe.Chunk
		var speaker, ts string
		if err := rows.Scan(&speaker, &c.Text, &c.Sequence, &ts); err != nil {
			return nil, fmt.Errorf("scan transcript chunk for interview %s: %w", interviewID, err)
		}
		c.Speaker = transcribe.Speaker(speaker)
		if c.CommittedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse transcript timestamp for interview %s: %w", interviewID, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for interview %s: %w", interviewID, err)
	}
	return chunks, nil
}

func (s *SQLiteStore) AppendViolation(interviewID string, v proctor.Violation) error {
	_, err := s.db.Exec(
		`INSERT INTO violations(interview_id, type, ordinal, action, details, timestamp) VALUES(?, ?, ?, ?, ?, ?)`,
		interviewID,
		string(v.Type),
		v.Ordinal,
		string(v.Action),
		v.Details,
		formatTime(v.At),
	)
	if err != nil {
		return fmt.Errorf("append violation for interview %s: %w", interviewID, err)
	}
	return nil
}

func (s *SQLiteStore) GetViolations(interviewID string) ([]proctor.Violation, error) {
	rows, err := s.db.Query(
		`SELECT type, ordinal, action, details, timestamp
		 FROM violations
		 WHERE interview_id = ?
		 ORDER BY ordinal ASC`,
		interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("query violations for interview %s: %w", interviewID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []proctor.Violation
	for rows.Next() {
		var v proctor.Violation
		var typ, action, ts string
		if err := rows.Scan(&typ, &v.Ordinal, &action, &v.Details, &ts); err != nil {
			return nil, fmt.Errorf("scan violation for interview %s: %w", interviewID, err)
		}
		v.Type = proctor.ViolationType(typ)
		v.Action = proctor.Action(action)
		if v.At, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse violation timestamp for interview %s: %w", interviewID, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation rows for interview %s: %w", interviewID, err)
	}
	return out, nil
}

// RequestReport files the interview's single report request. It reports
// false when one already exists.
func (s *SQLiteStore) RequestReport(req ReportRequest) (bool, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO report_requests(id, interview_id, kind, reason, status, requested_at) VALUES(?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.InterviewID,
		req.Kind,
		req.Reason,
		ReportPending,
		formatTime(req.RequestedAt),
	)
	if err != nil {
		return false, fmt.Errorf("request report for interview %s: %w", req.InterviewID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request report rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLiteStore) PendingReportRequests() ([]ReportRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, interview_id, kind, reason, requested_at
		 FROM report_requests
		 WHERE status = ?
		 ORDER BY requested_at ASC`,
		ReportPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending report requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReportRequest
	for rows.Next() {
		var req ReportRequest
		var ts string
		if err := rows.Scan(&req.ID, &req.InterviewID, &req.Kind, &req.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan report request: %w", err)
		}
		if req.RequestedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse report request time: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report request rows: %w", err)
	}
	return out, nil
}

// UpdateReport stores the report body and moves the request to status.
func (s *SQLiteStore) UpdateReport(interviewID, kind, content, status, preset string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin report update for interview %s: %w", interviewID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO reports(interview_id, kind, status, content, preset, updated_at) VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(interview_id) DO UPDATE SET
		   kind = excluded.kind, status = excluded.status, content = excluded.content,
		   preset = excluded.preset, updated_at = excluded.updated_at`,
		interviewID, kind, status, content, preset, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert report for interview %s: %w", interviewID, err)
	}
	if _, err := tx.Exec(`UPDATE report_requests SET status = ? WHERE interview_id = ?`, status, interviewID); err != nil {
		return fmt.Errorf("update report request for interview %s: %w", interviewID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report update for interview %s: %w", interviewID, err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(interviewID string) (Report, error) {
	row := s.db.QueryRow(
		`SELECT interview_id, kind, status, content, preset, updated_at FROM reports WHERE interview_id = ?`,
		interviewID,
	)

	var r Report
	var ts string
	err := row.Scan(&r.InterviewID, &r.Kind, &r.Status, &r.Content, &r.Preset, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, fmt.Errorf("report for interview %s: %w", interviewID, ErrNotFound)
	}
	if err != nil {
		return Report{}, fmt.Errorf("query report for interview %s: %w", interviewID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return Report{}, fmt.Errorf("parse report time for interview %s: %w", interviewID, err)
	}
	return r, nil
}

// ClaimReport guards generation of one (interview, prompt) pair so a
// restarted worker does not produce it twice.
func (s *SQLiteStore) ClaimReport(interviewID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO report_claims(interview_id, prompt_hash) VALUES(?, ?)`,
		interviewID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim report for interview %s: %w", interviewID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim report rows affected: %w", err)
	}
	return rows > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
