package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/yourorg/loadcore/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			config_name TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			test_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS traffic_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			method TEXT NOT NULL,
			host TEXT NOT NULL,
			path TEXT NOT NULL,
			query_params TEXT,
			request_headers TEXT,
			request_body TEXT,
			content_type TEXT,
			status_code INTEGER NOT NULL,
			response_headers TEXT,
			response_body TEXT,
			response_content_type TEXT,
			latency_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_run ON traffic_logs(run_id);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			remote_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY(run_id, path)
		);`,
		`CREATE TABLE IF NOT EXISTS stat_summaries (
			run_id TEXT NOT NULL,
			view TEXT NOT NULL,
			column_name TEXT NOT NULL,
			summary TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY(run_id, view, column_name)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateRun(configName string) (*types.Run, error) {
	now := time.Now().UTC()
	id, err := s.nextRunID(now)
	if err != nil {
		return nil, err
	}
	run := &types.Run{ID: id, ConfigName: configName, Status: types.RunStatusCreated, StartedAt: now, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.Exec(`INSERT INTO runs(id,config_name,session_id,test_id,status,error,started_at,ended_at,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.ConfigName, run.SessionID, run.TestID, run.Status, run.Error, run.StartedAt, run.EndedAt, run.CreatedAt, run.UpdatedAt)
	return run, err
}

func (s *SQLiteStore) nextRunID(now time.Time) (string, error) {
	prefix := fmt.Sprintf("run_%s_", now.Format("20060102"))
	rows, err := s.db.Query(`SELECT id FROM runs WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		_, _ = fmt.Sscanf(id, prefix+"%03d", &n)
		if n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1), nil
}

var runColumns = []string{"id", "config_name", "session_id", "test_id", "status", "error", "started_at", "ended_at", "created_at", "updated_at"}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (types.Run, error) {
	var r types.Run
	err := row.Scan(&r.ID, &r.ConfigName, &r.SessionID, &r.TestID, &r.Status, &r.Error, &r.StartedAt, &r.EndedAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *SQLiteStore) GetRun(id string) (*types.Run, error) {
	query, args, err := sq.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	r, err := scanRun(s.db.QueryRow(query, args...))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRun writes the mutable fields of run and bumps updated_at.
func (s *SQLiteStore) UpdateRun(run *types.Run) error {
	run.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`UPDATE runs SET session_id=?, test_id=?, status=?, error=?, ended_at=?, updated_at=? WHERE id=?`,
		run.SessionID, run.TestID, run.Status, run.Error, run.EndedAt, run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

// ListOption narrows or orders ListRuns.
type ListOption func(sq.SelectBuilder) sq.SelectBuilder

func ByStatus(statuses ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(statuses) == 0 {
			return b
		}
		return b.Where(sq.Eq{"status": statuses})
	}
}

func ByConfig(names ...string) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		if len(names) == 0 {
			return b
		}
		return b.Where(sq.Eq{"config_name": names})
	}
}

func Since(t time.Time) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where(sq.GtOrEq{"created_at": t.UTC()})
	}
}

func WithLimit(limit uint64) ListOption {
	return func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Limit(limit)
	}
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(opts ...ListOption) ([]types.Run, error) {
	builder := sq.Select(runColumns...).From("runs").OrderBy("created_at DESC", "id DESC")
	for _, opt := range opts {
		builder = opt(builder)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM traffic_logs WHERE run_id=?`,
		`DELETE FROM artifacts WHERE run_id=?`,
		`DELETE FROM stat_summaries WHERE run_id=?`,
		`DELETE FROM runs WHERE id=?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveTraffic(runID string, logs []types.TrafficLog) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO traffic_logs(run_id,request_id,seq,timestamp,method,host,path,query_params,request_headers,request_body,content_type,status_code,response_headers,response_body,response_content_type,latency_ms,error) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, l := range logs {
		qp, _ := json.Marshal(l.QueryParams)
		rh, _ := json.Marshal(l.RequestHeaders)
		respH, _ := json.Marshal(l.ResponseHeaders)
		if _, err := stmt.Exec(runID, l.RequestID, l.Seq, l.Timestamp, l.Method, l.Host, l.Path, string(qp), string(rh), l.RequestBody, l.ContentType, l.StatusCode, string(respH), l.ResponseBody, l.ResponseContentType, l.LatencyMs, l.Error); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE runs SET updated_at=? WHERE id=?`, time.Now().UTC(), runID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTraffic(runID string) ([]types.TrafficLog, error) {
	rows, err := s.db.Query(`SELECT id,run_id,request_id,seq,timestamp,method,host,path,query_params,request_headers,request_body,content_type,status_code,response_headers,response_body,response_content_type,latency_ms,error FROM traffic_logs WHERE run_id=? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.TrafficLog, 0)
	for rows.Next() {
		var l types.TrafficLog
		var qpS, rhS, respHS string
		if err := rows.Scan(&l.ID, &l.RunID, &l.RequestID, &l.Seq, &l.Timestamp, &l.Method, &l.Host, &l.Path, &qpS, &rhS, &l.RequestBody, &l.ContentType, &l.StatusCode, &respHS, &l.ResponseBody, &l.ResponseContentType, &l.LatencyMs, &l.Error); err != nil {
			return nil, err
		}
		if qpS != "" {
			_ = json.Unmarshal([]byte(qpS), &l.QueryParams)
		}
		if rhS != "" {
			_ = json.Unmarshal([]byte(rhS), &l.RequestHeaders)
		}
		if respHS != "" {
			_ = json.Unmarshal([]byte(respHS), &l.ResponseHeaders)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveArtifact records a produced file. Saving the same path again updates
// its kind and remote URL.
func (s *SQLiteStore) SaveArtifact(a *types.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO artifacts(run_id,kind,path,remote_url,created_at) VALUES(?,?,?,?,?)
	ON CONFLICT(run_id,path) DO UPDATE SET kind=excluded.kind,remote_url=excluded.remote_url`,
		a.RunID, a.Kind, a.Path, a.RemoteURL, a.CreatedAt)
	return err
}

func (s *SQLiteStore) GetArtifacts(runID string) ([]types.Artifact, error) {
	rows, err := s.db.Query(`SELECT run_id,kind,path,remote_url,created_at FROM artifacts WHERE run_id=? ORDER BY created_at ASC, path ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Artifact
	for rows.Next() {
		var a types.Artifact
		if err := rows.Scan(&a.RunID, &a.Kind, &a.Path, &a.RemoteURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveStatSummaries(runID string, summaries []types.StatSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, v := range summaries {
		if _, err := tx.Exec(`INSERT INTO stat_summaries(run_id,view,column_name,summary,value) VALUES(?,?,?,?,?)
		ON CONFLICT(run_id,view,column_name) DO UPDATE SET summary=excluded.summary,value=excluded.value`,
			runID, v.View, v.Column, v.Summary, v.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetStatSummaries(runID string) ([]types.StatSummary, error) {
	rows, err := s.db.Query(`SELECT run_id,view,column_name,summary,value FROM stat_summaries WHERE run_id=? ORDER BY view ASC, column_name ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.StatSummary
	for rows.Next() {
		var v types.StatSummary
		if err := rows.Scan(&v.RunID, &v.View, &v.Column, &v.Summary, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
