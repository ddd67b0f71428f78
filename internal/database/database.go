package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound означает, что запрошенная запись отсутствует.
	ErrNotFound = errors.New("record not found")

	// ErrCredentialsNotFound — у арендатора нет сохранённых учётных данных.
	ErrCredentialsNotFound = errors.New("tenant credentials not found")

	// ErrStoreWrite — ошибка записи в хранилище; фатальна для чанка, но не для задачи.
	ErrStoreWrite = errors.New("store write failed")
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{DB: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица записей о стоимости
		`CREATE TABLE IF NOT EXISTS cost_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            external_resource_id TEXT NOT NULL DEFAULT '',
            resource_group TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            sub_category TEXT NOT NULL DEFAULT '',
            meter TEXT NOT NULL DEFAULT '',
            cost_amount TEXT NOT NULL,
            currency TEXT NOT NULL DEFAULT '',
            usage_date TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(tenant_id, external_resource_id, usage_date, category, sub_category, meter)
        )`,
		// Таблица задач синхронизации
		`CREATE TABLE IF NOT EXISTS sync_jobs (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            range_start TEXT NOT NULL,
            range_end TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            total_chunks INTEGER NOT NULL DEFAULT 0,
            completed_chunks INTEGER NOT NULL DEFAULT 0,
            failed_chunks INTEGER NOT NULL DEFAULT 0,
            records_synced INTEGER NOT NULL DEFAULT 0,
            processing_rate REAL NOT NULL DEFAULT 0,
            started_at DATETIME,
            completed_at DATETIME,
            estimated_completion_at DATETIME,
            current_operation TEXT NOT NULL DEFAULT '',
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Чанки задач: вычисляются один раз при создании задачи
		`CREATE TABLE IF NOT EXISTS sync_chunks (
            job_id TEXT NOT NULL,
            idx INTEGER NOT NULL,
            label TEXT NOT NULL,
            range_start TEXT NOT NULL,
            range_end TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            records INTEGER NOT NULL DEFAULT 0,
            started_at DATETIME,
            completed_at DATETIME,
            error TEXT,
            PRIMARY KEY (job_id, idx)
        )`,
		// Учётные данные арендаторов для обмена токенов
		`CREATE TABLE IF NOT EXISTS tenant_credentials (
            tenant_id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            client_secret TEXT NOT NULL,
            directory_id TEXT NOT NULL,
            subscription_id TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Инвентарь известных ресурсов (пишется CRUD-слоем)
		`CREATE TABLE IF NOT EXISTS resources (
            tenant_id TEXT NOT NULL,
            external_resource_id TEXT NOT NULL,
            resource_group TEXT NOT NULL DEFAULT '',
            name TEXT NOT NULL DEFAULT '',
            PRIMARY KEY (tenant_id, external_resource_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_cost_records_tenant_date ON cost_records(tenant_id, usage_date)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_records_date ON cost_records(usage_date)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_tenant ON sync_jobs(tenant_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_chunks_job ON sync_chunks(job_id, status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
