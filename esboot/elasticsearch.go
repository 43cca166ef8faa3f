// Package esboot provides an Elasticsearch service with index migrations
// and a LogSink indexing application log messages.
package esboot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	elasticsearch7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/estransport"
	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/props"
	"github.com/nielskrijger/appboot/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	PropAddresses       = "elasticsearch.addresses"
	PropUsername        = "elasticsearch.username"
	PropPassword        = "elasticsearch.password"
	PropMigrationsIndex = "elasticsearch.migrationsIndex"
)

var errMissingAddresses = errors.New("property \"elasticsearch.addresses\" is required")

type ClusterInfo struct {
	ClusterName string `json:"cluster_name"`
}

type Elasticsearch struct {
	appboot.BaseService

	// Migrations run in order when the service starts.
	Migrations      []*Migration
	MigrationsIndex string

	Client *elasticsearch7.Client
	Config elasticsearch7.Config

	log zerolog.Logger
}

func (s *Elasticsearch) Name() string {
	return "elasticsearch"
}

func (s *Elasticsearch) DefaultProperties() map[string]string {
	return map[string]string{
		PropMigrationsIndex: "migrations",
	}
}

func (s *Elasticsearch) OnStart(ctx context.Context) error {
	app := s.App()
	s.log = app.Logger().With().Str("service", s.Name()).Logger()

	if err := s.configure(app); err != nil {
		return err
	}

	client, err := elasticsearch7.NewClient(s.Config)
	if err != nil {
		return errors.Wrap(err, "creating Elasticsearch client")
	}

	s.Client = client

	if err := s.testConnectivity(ctx); err != nil {
		return err
	}

	if err := s.Migrate(ctx); err != nil {
		return errors.Wrap(err, "running Elasticsearch migrations")
	}

	return nil
}

func (s *Elasticsearch) configure(app *appboot.Application) error {
	addresses, err := app.GetMandatoryProperty(PropAddresses)
	if errors.Is(err, props.ErrNotFound) {
		return errMissingAddresses
	} else if err != nil {
		return err
	}

	s.Config = elasticsearch7.Config{}

	for _, address := range strings.Split(addresses, ",") {
		if address = strings.TrimSpace(address); address != "" {
			s.Config.Addresses = append(s.Config.Addresses, address)
		}
	}

	if len(s.Config.Addresses) == 0 {
		return errMissingAddresses
	}

	if s.Config.Username, err = app.GetProperty(PropUsername, ""); err != nil {
		return err
	}

	if s.Config.Password, err = app.GetProperty(PropPassword, ""); err != nil {
		return err
	}

	if s.MigrationsIndex == "" {
		if s.MigrationsIndex, err = app.GetProperty(PropMigrationsIndex, "migrations"); err != nil {
			return err
		}
	}

	// setup request logging
	if s.log.Debug().Enabled() {
		human, _ := appboot.Property(app, "log.human", false)
		if human {
			s.Config.Logger = &estransport.ColorLogger{
				Output:             os.Stdout,
				EnableRequestBody:  true,
				EnableResponseBody: true,
			}
		} else {
			s.Config.Logger = &estransport.JSONLogger{
				Output:             os.Stdout,
				EnableRequestBody:  true,
				EnableResponseBody: true,
			}
		}
	}

	return nil
}

func (s *Elasticsearch) testConnectivity(ctx context.Context) error {
	res, err := s.Client.Info(s.Client.Info.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "fetch Elasticsearch cluster info")
	}

	defer utils.Close(s.log, res.Body, "Elasticsearch response body")

	if res.StatusCode != http.StatusOK {
		return errors.Errorf( // nolint:goerr113
			"expected 200 OK but got %q while retrieving Elasticsearch info",
			res.Status(),
		)
	}

	var info ClusterInfo
	if err = json.NewDecoder(res.Body).Decode(&info); err != nil {
		return errors.Wrap(err, "decoding cluster info")
	}

	s.log.Info().Msgf("successfully connected to Elasticsearch cluster %q", info.ClusterName)

	return nil
}

// OnStop is a no-op, the client keeps no connections that need closing.
func (s *Elasticsearch) OnStop() error {
	return nil
}

// ParseResponse decodes the search hits of the Elasticsearch response body
// into v. The response body may contain errors which is why it's advisable
// to always parse the response even you're not interested in the actual body.
//
// If v is nil only checks for errors.
//
// Closes the response body when done.
func (s *Elasticsearch) ParseResponse(res *esapi.Response, v any) error {
	b, err := s.ParseResponseBytes(res)
	if err != nil {
		return err
	}

	if v == nil {
		return nil
	}

	results := gjson.GetBytes(b, "hits.hits.#._source").Raw
	if results == "" {
		return nil
	}

	if err := json.Unmarshal([]byte(results), v); err != nil {
		return errors.Wrap(err, "parsing Elasticsearch response body")
	}

	return nil
}

// ParseResponseBytes reads the Elasticsearch response body. Returns an error
// if the response is an error response.
//
// Closes the response body when done.
func (s *Elasticsearch) ParseResponseBytes(res *esapi.Response) ([]byte, error) {
	defer utils.Close(s.log, res.Body, "Elasticsearch response body")

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch error response: %s", res.String()) //nolint:goerr113
	}

	result, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading Elasticsearch response body")
	}

	return result, nil
}
