package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ahrav/go-tally/internal/domain"
	"github.com/ahrav/go-tally/internal/ports"
)

func TestMongoFilter(t *testing.T) {
	f := domain.Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor", Municipality: "Recife"}

	assert.Equal(t, bson.M{
		"election_year":     2020,
		"round":             1,
		"office_code":       "mayor",
		"municipality_name": "Recife",
	}, mongoFilter(f, true))

	assert.NotContains(t, mongoFilter(f, false), "office_code",
		"participation rows are office independent")
}

func TestNewMongoFetcher_RequiresClient(t *testing.T) {
	_, err := NewMongoFetcher(nil, MongoConfig{Database: "tally", BallotCollection: "ballots"})
	assert.Error(t, err)
}

func TestClassifyMongoError(t *testing.T) {
	assert.ErrorIs(t, classifyMongoError("FetchPage", context.Canceled), context.Canceled)
	assert.True(t, IsTransient(classifyMongoError("FetchPage", context.DeadlineExceeded)))
	assert.False(t, IsTransient(classifyMongoError("FetchPage", errors.New("bad query"))))

	var storeErr *ports.StoreError
	assert.ErrorAs(t, classifyMongoError("FetchPage", errors.New("bad query")), &storeErr)
	assert.Equal(t, "mongo", storeErr.Store)
}

func TestMemoryFetcher_Participation(t *testing.T) {
	m := NewMemoryFetcher(nil).WithParticipation([]domain.ParticipationRow{
		{StateCode: "PE", MunicipalityName: "Recife", ElectionYear: 2020, Round: 1, EligibleVoters: 10},
		{StateCode: "PE", MunicipalityName: "Recife", ElectionYear: 2020, Round: 2, EligibleVoters: 10},
		{StateCode: "SP", MunicipalityName: "Santos", ElectionYear: 2020, Round: 1, EligibleVoters: 10},
	})

	rows, err := m.FetchParticipation(context.Background(), domain.Filter{ElectionYear: 2020, Round: 1, OfficeCode: "mayor", StateCode: "PE"})

	assert.NoError(t, err)
	assert.Len(t, rows, 1)
}
