package esboot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
)

type Migration struct {
	ID      string
	Migrate func(ctx context.Context, es *Elasticsearch) error
}

type MigrationRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
}

// Migrate runs all migrations that are not in the migrations index yet.
func (s *Elasticsearch) Migrate(ctx context.Context) error {
	exists, err := s.IndexExists(ctx, s.MigrationsIndex)
	if err != nil {
		return err
	}

	if !exists {
		s.log.Info().Msgf("Elasticsearch %q index not found; run all migrations", s.MigrationsIndex)

		if err := s.IndexCreate(ctx, s.MigrationsIndex); err != nil {
			return err
		}
	}

	records, err := s.getMigrations(ctx)
	if err != nil {
		return err
	}

	pending, err := PendingMigrations(s.Migrations, records)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		s.log.Info().Msg("Elasticsearch is up-to-date")

		return nil
	}

	return s.runMigrations(ctx, pending)
}

// PendingMigrations compares migrations with the migration history and
// returns the ones that haven't run yet. Returns an error in the following
// scenarios:
//
// - The migration history has an unknown migration ID.
// - One of the new migrations has not been added to the back.
// - The migrations are ordered differently than the migration history.
func PendingMigrations(migrations []*Migration, records []MigrationRecord) ([]*Migration, error) {
	var pending []*Migration

	for i, migration := range migrations {
		if i >= len(records) {
			pending = append(pending, migration)

			continue
		}

		if migration.ID != records[i].ID {
			return nil, errors.Errorf( //nolint:goerr113
				"unexpected migration id %q, was expecting id %q (you can only add new migrations at the end)",
				migration.ID,
				records[i].ID,
			)
		}
	}

	if len(records) > len(migrations) {
		return nil, errors.Errorf( //nolint:goerr113
			"missing migration %q; you're not allowed to delete migrations that have already run",
			records[len(migrations)].ID,
		)
	}

	return pending, nil
}

func (s *Elasticsearch) runMigrations(ctx context.Context, migrations []*Migration) error {
	for _, migration := range migrations {
		start := time.Now()

		if err := migration.Migrate(ctx, s); err != nil {
			return errors.Wrapf(err, "migration %q failed", migration.ID)
		}

		if err := s.InsertMigrationRecord(ctx, migration.ID, time.Since(start)); err != nil {
			return err
		}

		s.log.Info().Msgf("completed Elasticsearch migration %q", migration.ID)
	}

	return nil
}

func (s *Elasticsearch) InsertMigrationRecord(ctx context.Context, id string, elapsed time.Duration) error {
	newRecord, err := json.Marshal(MigrationRecord{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Duration:  elapsed.Truncate(time.Millisecond).String(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal ES migration record")
	}

	req := esapi.IndexRequest{
		Index:      s.MigrationsIndex,
		DocumentID: id,
		Body:       bytes.NewReader(newRecord),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, s.Client)
	if err != nil {
		return errors.Wrap(err, "insert ES migration record")
	}

	return s.ParseResponse(res, nil)
}

func (s *Elasticsearch) IndexExists(ctx context.Context, idx string) (bool, error) {
	req := esapi.IndicesExistsRequest{
		Index: []string{idx},
	}

	res, err := req.Do(ctx, s.Client)
	if err != nil {
		return false, errors.Wrapf(err, "check if ES index %q exists", idx)
	}

	_ = res.Body.Close()

	return res.StatusCode == http.StatusOK, nil
}

func (s *Elasticsearch) IndexCreate(ctx context.Context, idx string) error {
	req := esapi.IndicesCreateRequest{Index: idx}

	res, err := req.Do(ctx, s.Client)
	if err != nil {
		return errors.Wrapf(err, "creating ES index %q", idx)
	}

	if err := s.ParseResponse(res, nil); err != nil {
		return err
	}

	s.log.Info().Msgf("created ES index %q", idx)

	return nil
}

func (s *Elasticsearch) IndexDelete(ctx context.Context, idx string) error {
	req := esapi.IndicesDeleteRequest{
		Index:             []string{idx},
		IgnoreUnavailable: esapi.BoolPtr(true),
	}

	res, err := req.Do(ctx, s.Client)
	if err != nil {
		return errors.Wrapf(err, "deleting ES index %q", idx)
	}

	if err := s.ParseResponse(res, nil); err != nil {
		return err
	}

	s.log.Info().Msgf("deleted ES index %q", idx)

	return nil
}

// getMigrations retrieves all migrations that have run, oldest first.
func (s *Elasticsearch) getMigrations(ctx context.Context) ([]MigrationRecord, error) {
	req := esapi.SearchRequest{
		Index: []string{s.MigrationsIndex},
		Size:  esapi.IntPtr(10000),
	}

	res, err := req.Do(ctx, s.Client)
	if err != nil {
		return nil, errors.Wrapf(err, "search all ES documents in index %q", s.MigrationsIndex)
	}

	var records []MigrationRecord
	if err := s.ParseResponse(res, &records); err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, nil
}
