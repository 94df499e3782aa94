package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"towerdefense/server/internal/game"
)

// ErrNotFound is returned by Load when no snapshot has been saved.
var ErrNotFound = errors.New("persist: snapshot not found")

// Store keeps the latest encoded snapshot.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

// Load reads and hydrates the stored snapshot. A missing snapshot yields no
// rooms and no error.
func Load(ctx context.Context, store Store, now time.Time) ([]*game.Room, Report, error) {
	data, err := store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, Report{}, nil
	}
	if err != nil {
		return nil, Report{}, err
	}
	return Decode(data, now)
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	// Driver is one of file, redis, sql or none.
	Driver string
	// URL is a directory for file, a redis URL for redis and a DSN for sql.
	URL string
	// Key names the snapshot inside the backend.
	Key string
	// SQLDialect is sqlite or postgres.
	SQLDialect string
}

const defaultKey = "towerdefense-snapshot"

// OpenStore constructs the configured backend.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	key := cfg.Key
	if key == "" {
		key = defaultKey
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		dir := cfg.URL
		if dir == "" {
			dir = "./data"
		}
		return NewFileStore(dir, key)
	case "redis":
		return NewRedisStore(ctx, cfg.URL, key)
	case "sql":
		return NewSQLStore(cfg.SQLDialect, cfg.URL, key)
	case "none":
		return nopStore{}, nil
	default:
		return nil, fmt.Errorf("persist: unknown store driver %q", cfg.Driver)
	}
}

// FileStore writes the snapshot to a file, replacing it atomically.
type FileStore struct {
	path string
}

// NewFileStore creates dir if needed and stores the snapshot as dir/key.
func NewFileStore(dir, key string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create snapshot dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, key)}, nil
}

// Path reports the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read snapshot: %w", err)
	}
	return data, nil
}

func (s *FileStore) Close() error { return nil }

// RedisStore keeps the snapshot under a single redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("persist: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("persist: redis ping: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("persist: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: redis get: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// snapshotRow is the table backing SQLStore.
type snapshotRow struct {
	Name      string `gorm:"primaryKey;size:128"`
	Data      []byte
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// SQLStore keeps the snapshot in a single-row-per-key table.
type SQLStore struct {
	db  *gorm.DB
	key string
}

// NewSQLStore opens dsn with the sqlite or postgres dialect and migrates the
// snapshots table.
func NewSQLStore(dialect, dsn, key string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(dialect) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "file:towerdefense.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("persist: unknown sql dialect %q", dialect)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("persist: open sql store: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, errors.Join(fmt.Errorf("persist: migrate sql store: %w", err), closeDB(db))
	}
	return &SQLStore{db: db, key: key}, nil
}

func (s *SQLStore) Save(ctx context.Context, data []byte) error {
	row := snapshotRow{Name: s.key, Data: data, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persist: sql upsert: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]byte, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("name = ?", s.key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persist: sql load: %w", err)
	}
	return row.Data, nil
}

func (s *SQLStore) Close() error {
	return closeDB(s.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// nopStore discards snapshots.
type nopStore struct{}

func (nopStore) Save(context.Context, []byte) error { return nil }

func (nopStore) Load(context.Context) ([]byte, error) { return nil, ErrNotFound }

func (nopStore) Close() error { return nil }
