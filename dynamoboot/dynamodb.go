// Package dynamoboot provides a DynamoDB service with table migrations.
package dynamoboot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/props"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	PropRegion          = "dynamodb.region"
	PropLocal           = "dynamodb.local"
	PropEndpoint        = "dynamodb.endpoint"
	PropMigrationsTable = "dynamodb.migrationsTable"
)

var errMissingRegion = errors.New("property \"dynamodb.region\" is required")

type Config struct {
	// The AWS region to connect to
	Region string

	// When true connects to a local DynamoDB instance at Endpoint
	Local bool

	// Endpoint of the local DynamoDB, default http://localhost:8000
	Endpoint string

	// Name of the table keeping track of migration history
	MigrationsTable string
}

type DynamoDB struct {
	appboot.BaseService

	// Migrations run in order when the service starts.
	Migrations []*Migration

	Client *dynamodb.Client
	Config Config

	log zerolog.Logger
}

func (db *DynamoDB) Name() string {
	return "dynamodb"
}

func (db *DynamoDB) DefaultProperties() map[string]string {
	return map[string]string{
		PropLocal:           "false",
		PropEndpoint:        "http://localhost:8000",
		PropMigrationsTable: "migrations",
	}
}

// LoadConfig reads the DynamoDB properties of app.
func LoadConfig(app *appboot.Application) (cfg Config, err error) {
	cfg.Region, err = app.GetMandatoryProperty(PropRegion)
	if errors.Is(err, props.ErrNotFound) {
		return cfg, errMissingRegion
	} else if err != nil {
		return cfg, err
	}

	if cfg.Local, err = appboot.Property(app, PropLocal, false); err != nil {
		return cfg, err
	}

	if cfg.Endpoint, err = app.GetProperty(PropEndpoint, "http://localhost:8000"); err != nil {
		return cfg, err
	}

	cfg.MigrationsTable, err = app.GetProperty(PropMigrationsTable, "migrations")

	return cfg, err
}

// OnStart connects to DynamoDB and runs the migrations.
func (db *DynamoDB) OnStart(ctx context.Context) error {
	app := db.App()
	db.log = app.Logger().With().Str("service", db.Name()).Logger()

	cfg, err := LoadConfig(app)
	if err != nil {
		return err
	}

	db.Config = cfg

	client, err := db.createClient(ctx)
	if err != nil {
		return errors.Wrap(err, "creating dynamodb client")
	}

	db.Client = client

	if err := db.testConnectivity(ctx); err != nil {
		return err
	}

	if err := db.Migrate(ctx); err != nil {
		return errors.Wrap(err, "running DynamoDB migrations")
	}

	return nil
}

// OnStop is a no-op, the DynamoDB client does not need closing.
func (db *DynamoDB) OnStop() error {
	return nil
}

func (db *DynamoDB) createClient(ctx context.Context) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(db.Config.Region),
	}

	if db.Config.Local {
		endpoint := db.Config.Endpoint
		opts = append(opts,
			config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: endpoint}, nil
				})),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{
					AccessKeyID:     "dummy",
					SecretAccessKey: "dummy",
					SessionToken:    "dummy",
					Source:          "Hard-coded credentials; values are irrelevant for local DynamoDB",
				},
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func (db *DynamoDB) testConnectivity(ctx context.Context) error {
	if _, err := db.Client.ListTables(ctx, &dynamodb.ListTablesInput{}); err != nil {
		return errors.Wrap(err, "connecting to DynamoDB")
	}

	db.log.Info().Msg("successfully connected to DynamoDB")

	return nil
}

func (db *DynamoDB) TableExists(ctx context.Context, tableName string) (bool, error) {
	p := dynamodb.NewListTablesPaginator(db.Client, &dynamodb.ListTablesInput{})

	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return false, errors.Wrap(err, "list tables")
		}

		for _, n := range out.TableNames {
			if n == tableName {
				return true, nil
			}
		}
	}

	return false, nil
}

// CreateTable creates a table and waits until it is ready.
func (db *DynamoDB) CreateTable(ctx context.Context, tableInput *dynamodb.CreateTableInput) error {
	if _, err := db.Client.CreateTable(ctx, tableInput); err != nil {
		return errors.Wrapf(err, "creating table %q", *tableInput.TableName)
	}

	if err := db.waitForTable(ctx, *tableInput.TableName); err != nil {
		return err
	}

	db.log.Info().Msgf("created DynamoDB table %q", *tableInput.TableName)

	return nil
}

// CreateTableIfNotExists creates a table if it does not exist and waits until it is ready.
func (db *DynamoDB) CreateTableIfNotExists(ctx context.Context, tableInput *dynamodb.CreateTableInput) error {
	exists, err := db.TableExists(ctx, *tableInput.TableName)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msgf("table %q already exists, nothing to do here", *tableInput.TableName)

		return nil
	}

	return db.CreateTable(ctx, tableInput)
}

// waitForTable blocks until a DynamoDB table is ready for reading/writing.
func (db *DynamoDB) waitForTable(ctx context.Context, tableName string) error {
	w := dynamodb.NewTableExistsWaiter(db.Client)

	err := w.Wait(ctx,
		&dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		},
		2*time.Minute,
		func(o *dynamodb.TableExistsWaiterOptions) {
			o.MaxDelay = 5 * time.Second
			o.MinDelay = time.Second
		})
	if err != nil {
		return errors.Wrap(err, "timed out while waiting for table to become active")
	}

	return nil
}
