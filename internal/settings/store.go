package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/workbay/workbay/internal/shared"
)

// ErrNotStored is returned by a Backend for a category that was never saved.
var ErrNotStored = errors.New("settings: category not stored")

// Backend persists raw settings payloads per category.
type Backend interface {
	Get(ctx context.Context, category Category) ([]byte, error)
	Put(ctx context.Context, category Category, payload []byte, actor string) error
}

// PgBackend keeps settings in the app_settings table.
type PgBackend struct {
	pool *pgxpool.Pool
}

// NewPgBackend returns a pgx backed Backend.
func NewPgBackend(pool *pgxpool.Pool) *PgBackend {
	return &PgBackend{pool: pool}
}

func (b *PgBackend) Get(ctx context.Context, category Category) ([]byte, error) {
	var payload []byte
	err := b.pool.QueryRow(ctx, `SELECT payload FROM app_settings WHERE category = $1`, string(category)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotStored
	}
	if err != nil {
		return nil, fmt.Errorf("settings: load %s: %w", category, err)
	}
	return payload, nil
}

func (b *PgBackend) Put(ctx context.Context, category Category, payload []byte, actor string) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO app_settings (category, payload, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (category) DO UPDATE SET payload = EXCLUDED.payload, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
		string(category), payload, actor)
	if err != nil {
		return fmt.Errorf("settings: save %s: %w", category, err)
	}
	return nil
}

// Service loads and saves typed settings, caching payloads in Redis.
type Service struct {
	backend Backend
	cache   *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService wires the settings store. cache may be nil.
func NewService(backend Backend, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "settings"))
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{backend: backend, cache: cache, ttl: ttl, logger: logger}
}

// LoadPrint returns the print settings, or defaults when none were saved.
func (s *Service) LoadPrint(ctx context.Context) (PrintSettings, error) {
	out := DefaultPrintSettings()
	err := s.load(ctx, CategoryPrint, &out)
	return out, err
}

// SavePrint validates and stores print settings.
func (s *Service) SavePrint(ctx context.Context, in PrintSettings, actor string) (PrintSettings, error) {
	if err := check(in); err != nil {
		return PrintSettings{}, err
	}
	return in, s.save(ctx, CategoryPrint, in, actor)
}

// LoadQuickDescriptions returns the quick description list.
func (s *Service) LoadQuickDescriptions(ctx context.Context) (QuickDescriptions, error) {
	out := DefaultQuickDescriptions()
	err := s.load(ctx, CategoryQuickDescriptions, &out)
	return out, err
}

// SaveQuickDescriptions normalises, validates and stores the list.
func (s *Service) SaveQuickDescriptions(ctx context.Context, in QuickDescriptions, actor string) (QuickDescriptions, error) {
	in = in.Normalise()
	if err := check(in); err != nil {
		return QuickDescriptions{}, err
	}
	return in, s.save(ctx, CategoryQuickDescriptions, in, actor)
}

func (s *Service) load(ctx context.Context, category Category, target any) error {
	if s == nil || s.backend == nil {
		return errors.New("settings: service not configured")
	}
	key := shared.SettingsCacheKey(string(category))
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, target); err == nil {
				return nil
			}
			s.logger.Warn("discarding corrupt settings cache entry", slog.String("category", string(category)))
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("settings cache unavailable", slog.String("category", string(category)), slog.Any("error", err))
		}
	}
	raw, err := s.backend.Get(ctx, category)
	if errors.Is(err, ErrNotStored) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("settings: decode %s: %w", category, err)
	}
	s.remember(ctx, key, raw)
	return nil
}

func (s *Service) save(ctx context.Context, category Category, value any, actor string) error {
	if s == nil || s.backend == nil {
		return errors.New("settings: service not configured")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, category, raw, actor); err != nil {
		return err
	}
	s.remember(ctx, shared.SettingsCacheKey(string(category)), raw)
	s.logger.Info("settings saved", slog.String("category", string(category)), slog.String("actor", actor))
	return nil
}

func (s *Service) remember(ctx context.Context, key string, raw []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("settings cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}
