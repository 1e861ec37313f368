package store

import (
	"context"
	"errors"
	"fmt"

	"callpipe/config"
	"callpipe/models"
)

var ErrNotFound = errors.New("call not found")

// Backend is implemented by every sink driver.
type Backend interface {
	Save(ctx context.Context, call models.NormalizedCall) error
	Get(ctx context.Context, source, callID string) (models.NormalizedCall, error)
	List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the sink described by cfg.
func Open(ctx context.Context, name string, cfg config.SinkConfig) (Backend, error) {
	switch cfg.Driver {
	case "mongo":
		return NewMongo(ctx, cfg)
	case "postgres", "sqlite":
		return NewSQL(ctx, cfg.Driver, cfg.URI)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("sink %s: unknown driver %q", name, cfg.Driver)
	}
}

// OpenAll connects every configured sink. On failure the sinks opened so
// far are closed.
func OpenAll(ctx context.Context, sinks map[string]config.SinkConfig) (map[string]Backend, error) {
	out := make(map[string]Backend, len(sinks))
	for name, cfg := range sinks {
		b, err := Open(ctx, name, cfg)
		if err != nil {
			CloseAll(context.Background(), out)
			return nil, fmt.Errorf("open sink %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// CloseAll closes every backend and joins the errors.
func CloseAll(ctx context.Context, backends map[string]Backend) error {
	var errs []error
	for name, b := range backends {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
