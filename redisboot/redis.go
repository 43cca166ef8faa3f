// Package redisboot provides a Redis service.
package redisboot

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/props"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	PropURL                  = "redis.url"
	PropPassword             = "redis.password"
	PropDB                   = "redis.db"
	PropPoolSize             = "redis.poolSize"
	PropDialTimeout          = "redis.dialTimeout"
	PropConnectMaxRetries    = "redis.connectMaxRetries"
	PropConnectRetryDuration = "redis.connectRetryDuration"
)

var errMissingURL = errors.New("property \"redis.url\" is required")

type Config struct {
	// URL contains hostname:port, e.g. localhost:6379
	URL string

	// Password if left empty uses no password
	Password string

	// DB defaults to db 0
	DB int

	// Maximum number of socket connections.
	// Zero uses 10 connections per every CPU as reported by runtime.NumCPU.
	PoolSize int

	// Dial timeout for establishing new connections. Default is 5 seconds.
	DialTimeout time.Duration

	// Number of retries upon initial connect. Default is 5 times.
	ConnectMaxRetries int

	// Time between retries for initial connect attempts. Default is 5 seconds.
	ConnectRetryDuration time.Duration
}

type Redis struct {
	appboot.BaseService

	Client *redis.Client
	Config Config

	log zerolog.Logger
}

func (s *Redis) Name() string {
	return "redis"
}

func (s *Redis) DefaultProperties() map[string]string {
	return map[string]string{
		PropDB:                   "0",
		PropDialTimeout:          "5s",
		PropConnectMaxRetries:    "5",
		PropConnectRetryDuration: "5s",
	}
}

// LoadConfig reads the Redis properties of app.
func LoadConfig(app *appboot.Application) (cfg Config, err error) {
	cfg.URL, err = app.GetMandatoryProperty(PropURL)
	if errors.Is(err, props.ErrNotFound) {
		return cfg, errMissingURL
	} else if err != nil {
		return cfg, err
	}

	if cfg.Password, err = app.GetProperty(PropPassword, ""); err != nil {
		return cfg, err
	}

	if cfg.DB, err = appboot.Property(app, PropDB, 0); err != nil {
		return cfg, err
	}

	if cfg.PoolSize, err = appboot.Property(app, PropPoolSize, 0); err != nil {
		return cfg, err
	}

	if cfg.DialTimeout, err = appboot.Property(app, PropDialTimeout, 5*time.Second); err != nil {
		return cfg, err
	}

	if cfg.ConnectMaxRetries, err = appboot.Property(app, PropConnectMaxRetries, 5); err != nil {
		return cfg, err
	}

	cfg.ConnectRetryDuration, err = appboot.Property(app, PropConnectRetryDuration, 5*time.Second)

	return cfg, err
}

func (s *Redis) OnStart(ctx context.Context) error {
	app := s.App()
	s.log = app.Logger().With().Str("service", s.Name()).Logger()

	cfg, err := LoadConfig(app)
	if err != nil {
		return err
	}

	s.Config = cfg
	s.log.Info().Msgf("connecting to redis %q, db %d", cfg.URL, cfg.DB)

	s.Client = redis.NewClient(&redis.Options{
		Addr:        cfg.URL,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := s.testConnectivity(ctx); err != nil {
		_ = s.Client.Close()

		return err
	}

	return nil
}

func (s *Redis) testConnectivity(ctx context.Context) error {
	for retries := 1; ; retries++ {
		err := s.Client.WithContext(ctx).Ping().Err()
		if err == nil {
			s.log.Info().Msg("successfully connected to redis")

			return nil
		}

		if retries >= s.Config.ConnectMaxRetries {
			return errors.Wrapf(err, "failed to connect to redis after %d retries", retries)
		}

		s.log.Warn().
			Err(err).
			Str("url", s.Config.URL).
			Int("db", s.Config.DB).
			Msgf("failed to connect to redis, retrying in %s", s.Config.ConnectRetryDuration)

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "connecting to redis")
		case <-time.After(s.Config.ConnectRetryDuration):
		}
	}
}

// OnStop closes the client, waiting for pending commands.
func (s *Redis) OnStop() error {
	if err := s.Client.Close(); err != nil {
		return errors.Wrapf(err, "closing %s service", s.Name())
	}

	return nil
}
