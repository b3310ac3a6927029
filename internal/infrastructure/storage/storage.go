package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
)

// Dialect 不同数据库之间的差异：建表语句与占位符风格
type Dialect struct {
	Name   string
	Schema string
	// Numbered 为 true 时 ? 占位符改写为 $1, $2 ...（PostgreSQL）
	Numbered bool
}

// SQLRepo database/sql 上的 alert 仓储，sqlite 与 postgres 共用
type SQLRepo struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ port.AlertRepository = (*SQLRepo)(nil)

// NewSQLRepo 执行 migrate 后返回；失败时不关闭 db，由调用方处理
func NewSQLRepo(ctx context.Context, db *sql.DB, d Dialect) (*SQLRepo, error) {
	r := &SQLRepo{db: db, dialect: d, now: time.Now}
	if _, err := db.ExecContext(ctx, d.Schema); err != nil {
		return nil, fmt.Errorf("%s migrate: %w", d.Name, err)
	}
	return r, nil
}

func (r *SQLRepo) Close() error { return r.db.Close() }

// SetClock 测试用
func (r *SQLRepo) SetClock(now func() time.Time) { r.now = now }

func (r *SQLRepo) q(query string) string {
	if !r.dialect.Numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func (r *SQLRepo) nowMs() int64 { return r.now().UnixMilli() }

// ---- users ----

func (r *SQLRepo) FindOrCreateUser(ctx context.Context, chatID, username string) (*model.User, error) {
	now := r.nowMs()
	row := r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO users(chat_id, username, is_active, created_at)
		VALUES(?, ?, 1, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
		username = CASE WHEN excluded.username = '' THEN users.username ELSE excluded.username END
		RETURNING id, chat_id, username, is_active, created_at
	`), chatID, username, now)

	var (
		u       model.User
		active  int
		created int64
	)
	if err := row.Scan(&u.ID, &u.ChatID, &u.Username, &active, &created); err != nil {
		return nil, fmt.Errorf("find or create user: %w", err)
	}
	u.Active = active == 1
	u.CreatedAt = time.UnixMilli(created)
	return &u, nil
}

// ---- alerts ----

const alertColumns = `a.id, a.user_id, u.chat_id, a.type, a.data, a.is_active, a.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(s rowScanner) (*model.Alert, error) {
	var (
		a       model.Alert
		data    string
		active  int
		created int64
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.ChatID, &a.Type, &data, &active, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &a.Payload); err != nil {
		return nil, fmt.Errorf("alert %d data: %w", a.ID, err)
	}
	a.Active = active == 1
	a.CreatedAt = time.UnixMilli(created)
	return &a, nil
}

func (r *SQLRepo) queryAlerts(ctx context.Context, query string, args ...any) ([]*model.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLRepo) CreateAlert(ctx context.Context, userID int64, payload model.MovementPayload) (*model.Alert, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := r.nowMs()

	var id int64
	err = r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO alerts(user_id, type, data, is_active, created_at, updated_at)
		VALUES(?, ?, ?, 1, ?, ?)
		RETURNING id
	`), userID, model.AlertTypeMovement, string(data), now, now).Scan(&id)
	if err != nil {
		return nil, err
	}
	return r.GetAlert(ctx, id)
}

// GetAlert 包括已停用的 alert；不存在返回 model.ErrAlertNotFound
func (r *SQLRepo) GetAlert(ctx context.Context, alertID int64) (*model.Alert, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT `+alertColumns+`
		FROM alerts a JOIN users u ON u.id = a.user_id
		WHERE a.id = ?
	`), alertID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAlertNotFound
	}
	return a, err
}

func (r *SQLRepo) LoadActive(ctx context.Context) ([]*model.Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a JOIN users u ON u.id = a.user_id
		WHERE a.is_active = 1 AND u.is_active = 1
		ORDER BY a.id
	`)
}

func (r *SQLRepo) ListActiveByUser(ctx context.Context, userID int64) ([]*model.Alert, error) {
	return r.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a JOIN users u ON u.id = a.user_id
		WHERE a.user_id = ? AND a.is_active = 1
		ORDER BY a.id
	`, userID)
}

func (r *SQLRepo) UpdatePayload(ctx context.Context, alertID int64, payload model.MovementPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE alerts SET data = ?, updated_at = ? WHERE id = ? AND is_active = 1
	`), string(data), r.nowMs(), alertID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r *SQLRepo) Deactivate(ctx context.Context, alertID int64) error {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE alerts SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1
	`), r.nowMs(), alertID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// DeactivateAllForUser 在一个事务里读出并停用，返回停用前的 alert
func (r *SQLRepo) DeactivateAllForUser(ctx context.Context, userID int64) ([]*model.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, r.q(`
		SELECT `+alertColumns+`
		FROM alerts a JOIN users u ON u.id = a.user_id
		WHERE a.user_id = ? AND a.is_active = 1
		ORDER BY a.id
	`), userID)
	if err != nil {
		return nil, err
	}
	var list []*model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, r.q(`
		UPDATE alerts SET is_active = 0, updated_at = ? WHERE user_id = ? AND is_active = 1
	`), r.nowMs(), userID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, a := range list {
		a.Active = false
	}
	return list, nil
}

func (r *SQLRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE is_active = 1`).Scan(&n)
	return n, err
}

// ---- events ----

func (r *SQLRepo) AppendEvent(ctx context.Context, ev *model.AlertEvent) error {
	snap, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return err
	}
	now := r.now()
	var id int64
	err = r.db.QueryRowContext(ctx, r.q(`
		INSERT INTO alert_events(alert_id, user_id, event_type, snapshot, created_at)
		VALUES(?, ?, ?, ?, ?)
		RETURNING id
	`), ev.AlertID, ev.UserID, string(ev.Kind), string(snap), now.UnixMilli()).Scan(&id)
	if err != nil {
		return err
	}
	ev.ID = id
	ev.CreatedAt = time.UnixMilli(now.UnixMilli())
	return nil
}

func (r *SQLRepo) ListEvents(ctx context.Context, alertID int64) ([]*model.AlertEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, alert_id, user_id, event_type, snapshot, created_at
		FROM alert_events WHERE alert_id = ?
		ORDER BY id
	`), alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AlertEvent
	for rows.Next() {
		var (
			ev      model.AlertEvent
			kind    string
			snap    string
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.UserID, &kind, &snap, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snap), &ev.Snapshot); err != nil {
			return nil, fmt.Errorf("event %d snapshot: %w", ev.ID, err)
		}
		ev.Kind = model.EventKind(kind)
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrAlertNotFound
	}
	return nil
}
