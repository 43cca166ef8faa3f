package dynamoboot

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

type Migration struct {
	ID      string
	Migrate func(ctx context.Context, db *DynamoDB) error
}

type MigrationRecord struct {
	ID        string `dynamodbav:"id"`
	Timestamp string `dynamodbav:"timestamp"`
	Duration  int64  `dynamodbav:"duration"`
}

// Migrate runs all migrations that are not in the migrations table yet.
func (db *DynamoDB) Migrate(ctx context.Context) error {
	if err := db.CreateTableIfNotExists(ctx, db.migrationsTableInput()); err != nil {
		return err
	}

	records, err := db.getMigrations(ctx)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(db.Migrations, records)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		db.log.Info().Msg("DynamoDB is up-to-date")

		return nil
	}

	return db.runMigrations(ctx, pending)
}

func (db *DynamoDB) migrationsTableInput() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(db.Config.MigrationsTable),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("timestamp"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String("timestamp"),
				KeyType:       types.KeyTypeRange,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// pendingMigrations returns the migrations that haven't run yet. Fails when
// the history has an unknown or missing migration ID, or when the
// migrations are ordered differently than the history.
func pendingMigrations(migrations []*Migration, records []MigrationRecord) ([]*Migration, error) {
	for i, record := range records {
		if i >= len(migrations) {
			return nil, errors.Errorf( //nolint:goerr113
				"missing migration %q; you're not allowed to delete migrations that have already run",
				record.ID,
			)
		}

		if migrations[i].ID != record.ID {
			return nil, errors.Errorf( //nolint:goerr113
				"unexpected migration id %q, was expecting id %q (you can only add new migrations at the end)",
				migrations[i].ID,
				record.ID,
			)
		}
	}

	return migrations[len(records):], nil
}

// getMigrations retrieves all migrations that have run ordered by timestamp (oldest first).
func (db *DynamoDB) getMigrations(ctx context.Context) ([]MigrationRecord, error) {
	p := dynamodb.NewScanPaginator(db.Client, &dynamodb.ScanInput{
		TableName: aws.String(db.Config.MigrationsTable),
	})

	var items []MigrationRecord

	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch DynamoDB page")
		}

		var pItems []MigrationRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &pItems); err != nil {
			return nil, errors.Wrap(err, "unmarshal DynamoDB items")
		}

		items = append(items, pItems...)
	}

	// RFC 3339 timestamps in UTC sort lexically
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp < items[j].Timestamp
	})

	return items, nil
}

func (db *DynamoDB) runMigrations(ctx context.Context, migrations []*Migration) error {
	for _, migration := range migrations {
		start := time.Now()

		if err := migration.Migrate(ctx, db); err != nil {
			return errors.Wrapf(err, "migration %q failed", migration.ID)
		}

		if err := db.insertMigrationRecord(ctx, migration.ID, time.Since(start)); err != nil {
			return err
		}

		db.log.Info().Msgf("completed DynamoDB migration %q", migration.ID)
	}

	return nil
}

func (db *DynamoDB) insertMigrationRecord(ctx context.Context, id string, elapsed time.Duration) error {
	av, err := attributevalue.MarshalMap(MigrationRecord{
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Duration:  elapsed.Milliseconds(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal DynamoDB migration record")
	}

	_, err = db.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(db.Config.MigrationsTable),
		Item:      av,
	})
	if err != nil {
		return errors.Wrap(err, "insert DynamoDB migration record")
	}

	return nil
}
