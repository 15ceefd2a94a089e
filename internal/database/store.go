package database

import (
	"context"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go"
	"github.com/universalathletics/inbox/internal/config"
	"github.com/universalathletics/inbox/internal/store"
	"github.com/universalathletics/inbox/internal/store/boltstore"
	"github.com/universalathletics/inbox/internal/store/fsstore"
	"github.com/universalathletics/inbox/internal/store/memstore"
	"github.com/universalathletics/inbox/internal/store/pgstore"
	"github.com/universalathletics/inbox/internal/store/redisbroker"
	"github.com/universalathletics/inbox/internal/store/watch"
)

// OpenStore connects the backend selected by cfg. For postgres it also opens
// DB (and Redis when configured); callers close those with CloseDB and
// CloseRedis after closing the store.
func OpenStore(ctx context.Context, cfg *config.Config, app *firebase.App) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Println("Using in-memory store")
		return memstore.New(), nil

	case config.BackendBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Using bolt store at %s", cfg.BoltPath)
		return s, nil

	case config.BackendPostgres:
		if err := ConnectDB(ctx, cfg.DBUrl, PoolConfig{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		}); err != nil {
			return nil, err
		}

		var broker watch.Broker = watch.NewLocalBroker()
		if cfg.RedisURL != "" {
			if err := ConnectRedis(cfg.RedisURL); err != nil {
				return nil, err
			}
			rb, err := redisbroker.New(ctx, Redis, redisbroker.DefaultPrefix)
			if err != nil {
				return nil, err
			}
			broker = rb
		}
		return pgstore.New(DB, broker), nil

	case config.BackendFirestore:
		if app == nil {
			return nil, fmt.Errorf("firestore store requires a firebase app")
		}
		return fsstore.NewFromApp(ctx, app)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
