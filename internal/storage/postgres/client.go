// Package postgres is the pgvector-backed chunk store. Ranking happens in SQL
// with the same 50/50 blend the other backends use.
package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/draftwise/backend/pkg/logger"
)

type Client struct {
	db *gorm.DB
}

func NewClient(dsn string) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("Postgres chunk store connected")
	return &Client{db: db}, nil
}

// NewFromDB wraps an existing gorm handle.
func NewFromDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate enables the vector extension and creates the chunk table with its
// scope and full-text indexes.
func (c *Client) Migrate(ctx context.Context) error {
	db := c.db.WithContext(ctx)
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	if err := db.AutoMigrate(&ChunkRecord{}); err != nil {
		return fmt.Errorf("failed to migrate chunk table: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_reference_chunks_tsv
		ON reference_chunks USING GIN (to_tsvector('english', text))`).Error; err != nil {
		return fmt.Errorf("failed to create text index: %w", err)
	}
	logger.Info("Postgres chunk schema ready", zap.String("table", ChunkRecord{}.TableName()))
	return nil
}
