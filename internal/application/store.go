package application

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// Database drivers selected by ServiceConfig.Store.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ahrav/go-tally/infrastructure/source"
	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

// Store is an opened tally store.
type Store struct {
	// Name labels metrics and spans.
	Name string

	Fetcher ports.PageFetcher

	// Participation is nil when no participation table is configured.
	Participation ports.ParticipationSource

	close func(context.Context) error
}

// Close releases the store's connections.
func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// OpenStore connects to the store selected by cfg.
func OpenStore(ctx context.Context, cfg *ServiceConfig) (*Store, error) {
	switch cfg.Store {
	case StoreSQLite, StorePostgres:
		return openSQL(cfg)
	case StoreMongo:
		return openMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfiguration, cfg.Store)
	}
}

func openSQL(cfg *ServiceConfig) (*Store, error) {
	dialect := source.DialectSQLite
	if cfg.Store == StorePostgres {
		dialect = source.DialectPostgres
	}

	db, err := sql.Open(dialect.DriverName(), cfg.SQLDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Store, err)
	}
	if dialect == source.DialectSQLite {
		// Prefetched pages share one file handle.
		db.SetMaxOpenConns(1)
	}

	sqlCfg := source.DefaultSQLConfig(dialect)
	sqlCfg.BallotTable = cfg.SQLBallotTable
	sqlCfg.ParticipationTable = cfg.SQLParticipationTable

	fetcher, err := source.NewSQLFetcher(db, sqlCfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &Store{
		Name:    cfg.Store,
		Fetcher: fetcher,
		close:   func(context.Context) error { return db.Close() },
	}
	if cfg.SQLParticipationTable != "" {
		st.Participation = fetcher
	}
	return st, nil
}

func openMongo(ctx context.Context, cfg *ServiceConfig) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	fetcher, err := source.NewMongoFetcher(client, source.MongoConfig{
		Database:                cfg.MongoDatabase,
		BallotCollection:        cfg.MongoBallotCollection,
		ParticipationCollection: cfg.MongoParticipationCollection,
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	st := &Store{
		Name:    StoreMongo,
		Fetcher: fetcher,
		close:   client.Disconnect,
	}
	if cfg.MongoParticipationCollection != "" {
		st.Participation = fetcher
	}
	return st, nil
}
