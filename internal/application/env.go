package application

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/logger"
)

// Store kinds accepted by TALLY_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// ServiceConfig is the process environment of the CLI and HTTP service.
type ServiceConfig struct {
	Store string `env:"TALLY_STORE" envDefault:"sqlite" validate:"oneof=sqlite postgres mongo"`

	SQLDSN                string `env:"TALLY_SQL_DSN" envDefault:"file:tally.db?mode=ro"`
	SQLBallotTable        string `env:"TALLY_SQL_BALLOT_TABLE" envDefault:"ballot_results"`
	SQLParticipationTable string `env:"TALLY_SQL_PARTICIPATION_TABLE"`

	MongoURI                     string `env:"TALLY_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase                string `env:"TALLY_MONGO_DATABASE" envDefault:"tally"`
	MongoBallotCollection        string `env:"TALLY_MONGO_BALLOT_COLLECTION" envDefault:"ballot_results"`
	MongoParticipationCollection string `env:"TALLY_MONGO_PARTICIPATION_COLLECTION"`

	// EngineConfigPath is the engine YAML file.
	EngineConfigPath string `env:"TALLY_ENGINE_CONFIG" envDefault:"config/engine.yaml" validate:"required"`

	HTTPAddr        string `env:"TALLY_HTTP_ADDR" envDefault:":8080"`
	ShutdownSeconds int    `env:"TALLY_SHUTDOWN_SECONDS" envDefault:"10" validate:"min=0"`

	// Log is parsed from the LOG_* variables.
	Log logger.Config
}

// LoadServiceConfig reads the environment after loading any of files that
// exist. Variables already set in the process win over file values.
func LoadServiceConfig(files ...string) (*ServiceConfig, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := &ServiceConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to parse log environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", domain.ErrInvalidConfiguration, err)
	}
	return cfg, nil
}
