// Package storage сохраняет индикаторы качества и очищенный набор данных в PostgreSQL
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config параметры подключения к PostgreSQL
type Config struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// DSN строка подключения для lib/pq
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// Connect открывает пул соединений и проверяет доступность базы
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Schema таблицы приемника (PostgreSQL 15+). Уникальные ключи делают повторную запись безопасной.
const Schema = `
CREATE TABLE IF NOT EXISTS mediciones_calidad (
	id                BIGSERIAL        PRIMARY KEY,
	despliegue_id     BIGINT           NOT NULL,
	ts_utc            TIMESTAMPTZ      NOT NULL,
	variable          TEXT             NOT NULL,
	valor             DOUBLE PRECISION NULL,
	indicador_calidad SMALLINT         NOT NULL,
	-- конфликтующие дубликаты ключа различаются значением и сохраняются оба
	UNIQUE NULLS NOT DISTINCT (despliegue_id, ts_utc, variable, valor)
);

CREATE TABLE IF NOT EXISTS dataset_limpio (
	despliegue_id BIGINT           NOT NULL,
	ts_utc        TIMESTAMPTZ      NOT NULL,
	variable      TEXT             NOT NULL,
	valor         DOUBLE PRECISION NULL,
	procedencia   TEXT             NOT NULL,
	PRIMARY KEY (despliegue_id, ts_utc, variable)
);
`

// Migrate создает таблицы, если их нет
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
