package postgres

import (
	"context"
	"database/sql"

	"pricealert/internal/infrastructure/storage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  chat_id TEXT NOT NULL UNIQUE,
  username TEXT NOT NULL DEFAULT '',
  is_active SMALLINT NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  type TEXT NOT NULL,
  data TEXT NOT NULL,
  is_active SMALLINT NOT NULL DEFAULT 1,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(is_active);

CREATE TABLE IF NOT EXISTS alert_events (
  id BIGSERIAL PRIMARY KEY,
  alert_id BIGINT NOT NULL REFERENCES alerts(id),
  user_id BIGINT NOT NULL REFERENCES users(id),
  event_type TEXT NOT NULL,
  snapshot TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_events_alert ON alert_events(alert_id);
`

type Repo struct {
	*storage.SQLRepo
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	repo, err := storage.NewSQLRepo(context.Background(), db, storage.Dialect{
		Name:     "postgres",
		Schema:   schema,
		Numbered: true,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{SQLRepo: repo}, nil
}
