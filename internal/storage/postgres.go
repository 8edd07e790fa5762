package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig 数据库配置
type PostgresConfig struct {
	DSN             string
	SessionID       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	WriteTimeout    time.Duration
}

// DefaultPostgresConfig 默认配置
func DefaultPostgresConfig(dsn string) *PostgresConfig {
	return &PostgresConfig{
		DSN:             dsn,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		WriteTimeout:    5 * time.Second,
	}
}

// 产物标识只在单个进程内唯一，主键带上会话
const schemaSQL = `
CREATE TABLE IF NOT EXISTS voice_artifacts (
	id          TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, id)
)`

// PostgresSink 将音频产物与控制消息持久化到 PostgreSQL
type PostgresSink struct {
	pool   *pgxpool.Pool
	config *PostgresConfig
	log    *slog.Logger
}

// NewPostgresSink 连接数据库并确保表结构存在
func NewPostgresSink(ctx context.Context, config *PostgresConfig) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 设置连接池参数
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	s := &PostgresSink{pool: pool, config: config, log: slog.Default().With("module", "storage")}
	s.log.Info("postgres sink ready", "session_id", config.SessionID)
	return s, nil
}

// StoreAudio 实现 dispatch.AudioSink
func (s *PostgresSink) StoreAudio(id string, payload []byte) error {
	return s.insert(id, "audio", payload)
}

// HandleControl 实现 dispatch.ControlSink
func (s *PostgresSink) HandleControl(payload []byte) error {
	return s.insert("control_"+uuid.NewString(), "control", payload)
}

func (s *PostgresSink) insert(id, kind string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_artifacts (id, session_id, kind, payload) VALUES ($1, $2, $3, $4)`,
		id, s.config.SessionID, kind, payload)
	if err != nil {
		return fmt.Errorf("%w: insert %s: %w", ErrStorageWrite, id, err)
	}
	return nil
}

// Count 当前会话已持久化的记录数
func (s *PostgresSink) Count(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM voice_artifacts WHERE session_id = $1 AND kind = $2`,
		s.config.SessionID, kind).Scan(&n)
	return n, err
}

// Ping 测试数据库连接
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *PostgresSink) Close() {
	s.pool.Close()
	s.log.Info("postgres sink closed")
}

// GetStats 获取连接池统计信息
func (s *PostgresSink) GetStats() map[string]interface{} {
	stat := s.pool.Stat()
	return map[string]interface{}{
		"total_conns":    stat.TotalConns(),
		"idle_conns":     stat.IdleConns(),
		"acquired_conns": stat.AcquiredConns(),
	}
}
