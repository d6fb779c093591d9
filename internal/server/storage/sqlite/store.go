package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"netsparrow/pkg/model"
)

type Store struct {
	db  *sql.DB
	ins *sql.Stmt
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./detections.sqlite"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败：%w", err)
	}
	// modernc sqlite 单连接写，避免 database is locked
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS detections (
	timestamp  TIMESTAMP,
	src_ip     TEXT,
	dst_ip     TEXT,
	subject_ip TEXT,
	confidence REAL,
	threshold  REAL,
	exempt     INTEGER,
	pushed     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_detections_subject ON detections(subject_ip);
CREATE INDEX IF NOT EXISTS idx_detections_ts      ON detections(timestamp);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("建表失败：%w", err)
	}
	stmt, err := s.db.Prepare(`
INSERT INTO detections (
	timestamp, src_ip, dst_ip, subject_ip, confidence, threshold, exempt, pushed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败：%w", err)
	}
	s.ins = stmt
	return nil
}

func (s *Store) Insert(ctx context.Context, d *model.Detection) error {
	if d == nil {
		return fmt.Errorf("detection 为空")
	}
	_, err := s.ins.ExecContext(ctx,
		d.Timestamp.UTC(),
		d.SrcIP,
		d.DstIP,
		d.SubjectIP,
		d.Confidence,
		d.Threshold,
		d.Exempt,
		d.Pushed,
	)
	if err != nil {
		return fmt.Errorf("插入失败：%w", err)
	}
	return nil
}

const selectColumns = `
SELECT timestamp, src_ip, dst_ip, subject_ip, confidence, threshold, exempt, pushed
FROM detections`

func (s *Store) QueryByIP(ctx context.Context, ip string, limit int) ([]model.Detection, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.query(ctx, selectColumns+`
WHERE subject_ip = ? OR src_ip = ? OR dst_ip = ?
ORDER BY timestamp DESC
LIMIT ?;
`, ip, ip, ip, limit)
}

func (s *Store) Recent(ctx context.Context, limit int) ([]model.Detection, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.query(ctx, selectColumns+`
ORDER BY timestamp DESC
LIMIT ?;
`, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Detection, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()
	out := make([]model.Detection, 0, 64)
	for rows.Next() {
		var d model.Detection
		if err := rows.Scan(
			&d.Timestamp,
			&d.SrcIP,
			&d.DstIP,
			&d.SubjectIP,
			&d.Confidence,
			&d.Threshold,
			&d.Exempt,
			&d.Pushed,
		); err != nil {
			return nil, fmt.Errorf("读取行失败：%w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历结果失败：%w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	var firstErr error
	if s.ins != nil {
		if err := s.ins.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
