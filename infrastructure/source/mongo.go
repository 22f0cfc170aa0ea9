package source

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

const mongoStore = "mongo"

// MongoConfig names the collections read by MongoFetcher.
type MongoConfig struct {
	Database                string `yaml:"database" validate:"required"`
	BallotCollection        string `yaml:"ballot_collection" validate:"required"`
	ParticipationCollection string `yaml:"participation_collection"`
}

// MongoFetcher reads ballot pages from a MongoDB collection using skip and
// limit over a stable sort.
type MongoFetcher struct {
	ballots       *mongo.Collection
	participation *mongo.Collection
}

// NewMongoFetcher creates a fetcher over client.
func NewMongoFetcher(client *mongo.Client, config MongoConfig) (*MongoFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("mongo fetcher: nil client")
	}
	if config.Database == "" || config.BallotCollection == "" {
		return nil, fmt.Errorf("mongo fetcher: database and ballot collection are required")
	}
	db := client.Database(config.Database)
	f := &MongoFetcher{ballots: db.Collection(config.BallotCollection)}
	if config.ParticipationCollection != "" {
		f.participation = db.Collection(config.ParticipationCollection)
	}
	return f, nil
}

func mongoFilter(filter domain.Filter, withOffice bool) bson.M {
	m := bson.M{
		"election_year": filter.ElectionYear,
		"round":         filter.Round,
	}
	if withOffice {
		m["office_code"] = filter.OfficeCode
	}
	if filter.StateCode != "" {
		m["state_code"] = filter.StateCode
	}
	if filter.Municipality != "" {
		m["municipality_name"] = filter.Municipality
	}
	return m
}

// FetchPage implements ports.PageFetcher.
func (f *MongoFetcher) FetchPage(
	ctx context.Context,
	filter domain.Filter,
	offset, limit int,
) ([]domain.BallotRecord, error) {
	opts := options.Find().
		SetSort(bson.D{
			{Key: "municipality_name", Value: 1},
			{Key: "zone_number", Value: 1},
			{Key: "section_number", Value: 1},
			{Key: "candidate_id", Value: 1},
			{Key: "_id", Value: 1},
		}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := f.ballots.Find(ctx, mongoFilter(filter, true), opts)
	if err != nil {
		return nil, classifyMongoError("FetchPage", err)
	}
	defer cursor.Close(ctx)

	out := make([]domain.BallotRecord, 0, limit)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, classifyMongoError("FetchPage", err)
	}
	return out, nil
}

// FetchParticipation implements ports.ParticipationSource.
func (f *MongoFetcher) FetchParticipation(ctx context.Context, filter domain.Filter) ([]domain.ParticipationRow, error) {
	if f.participation == nil {
		return nil, fmt.Errorf("%w: participation collection not configured", ports.ErrConfigNotFound)
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "municipality_name", Value: 1},
		{Key: "zone_number", Value: 1},
	})
	cursor, err := f.participation.Find(ctx, mongoFilter(filter, false), opts)
	if err != nil {
		return nil, classifyMongoError("FetchParticipation", err)
	}
	defer cursor.Close(ctx)

	var out []domain.ParticipationRow
	if err := cursor.All(ctx, &out); err != nil {
		return nil, classifyMongoError("FetchParticipation", err)
	}
	return out, nil
}

func classifyMongoError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return ports.NewStoreError(mongoStore, op, fmt.Errorf("%w: %v", ports.ErrTimeout, err))
	case mongo.IsNetworkError(err):
		return ports.NewStoreError(mongoStore, op, fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
	}
	return ports.NewStoreError(mongoStore, op, err)
}
