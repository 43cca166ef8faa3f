package esboot

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/nielskrijger/appboot"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	PropLogIndex         = "elasticsearch.logIndex"
	PropLogFlushInterval = "elasticsearch.logFlushInterval"
)

// LogDocument is the indexed form of a log message.
type LogDocument struct {
	Timestamp time.Time `json:"@timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	App       string    `json:"app"`
	Version   string    `json:"version"`
	Run       string    `json:"run"`
}

// LogIndexer is a LogSink bulk indexing log messages into Elasticsearch.
// Register it with its hierarchy to receive the application log:
//
//	app.Register(&esboot.LogIndexer{}, true)
type LogIndexer struct {
	appboot.BaseService

	bulk    esutil.BulkIndexer
	started time.Time
	doc     LogDocument
	log     zerolog.Logger
}

func (s *LogIndexer) Name() string {
	return "elasticsearch log indexer"
}

func (s *LogIndexer) Hierarchy() []reflect.Type {
	return []reflect.Type{appboot.TypeOf[appboot.LogSink]()}
}

func (s *LogIndexer) Dependencies() []reflect.Type {
	return []reflect.Type{appboot.TypeOf[*Elasticsearch]()}
}

func (s *LogIndexer) DefaultProperties() map[string]string {
	return map[string]string{
		PropLogIndex:         "logs",
		PropLogFlushInterval: "5s",
	}
}

func (s *LogIndexer) OnStart(ctx context.Context) error {
	app := s.App()
	s.log = app.Logger().With().Str("service", s.Name()).Logger()

	es, err := appboot.Get[*Elasticsearch](ctx, app)
	if err != nil {
		return err
	}

	index, err := app.GetProperty(PropLogIndex, "logs")
	if err != nil {
		return err
	}

	flushInterval, err := appboot.Property(app, PropLogFlushInterval, 5*time.Second)
	if err != nil {
		return err
	}

	bulk, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es.Client,
		Index:         index,
		NumWorkers:    1,
		FlushInterval: flushInterval,
		OnError: func(ctx context.Context, err error) {
			s.log.Error().Err(err).Msg("failed to index log messages")
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating Elasticsearch bulk indexer")
	}

	s.bulk = bulk
	s.started = time.Now()
	s.doc = LogDocument{App: app.Name(), Version: app.Version(), Run: app.RunID()}

	return nil
}

// Log implements appboot.LogSink. Messages are indexed asynchronously.
func (s *LogIndexer) Log(ts time.Time, level zerolog.Level, message string) {
	doc := s.doc
	doc.Timestamp = ts
	doc.Level = level.String()
	doc.Message = message

	b, err := json.Marshal(doc)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal log message")

		return
	}

	err = s.bulk.Add(context.Background(), esutil.BulkIndexerItem{
		Action: "index",
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to queue log message")
	}
}

// OnStop flushes all queued messages.
func (s *LogIndexer) OnStop() error {
	if err := s.bulk.Close(context.Background()); err != nil {
		return errors.Wrap(err, "closing bulk indexer")
	}

	LogBulkStats(s.log, s.bulk, time.Since(s.started))

	return nil
}

// LogBulkStats logs the number of documents indexed by bulk over dur.
func LogBulkStats(logger zerolog.Logger, bulk esutil.BulkIndexer, dur time.Duration) {
	stats := bulk.Stats()

	rate := float64(stats.NumFlushed)
	if ms := dur / time.Millisecond; ms > 0 {
		rate = 1000.0 / float64(ms) * float64(stats.NumFlushed)
	}

	if stats.NumFailed > 0 {
		logger.Error().Msgf(
			"finished indexing %s Elasticsearch documents with %s errors in %s (%s docs/sec)",
			humanize.Comma(int64(stats.NumFlushed)),
			humanize.Comma(int64(stats.NumFailed)),
			dur.Truncate(time.Millisecond),
			humanize.Comma(int64(rate)),
		)

		return
	}

	logger.Info().Msgf(
		"finished indexing %s Elasticsearch documents in %s (%s docs/sec)",
		humanize.Comma(int64(stats.NumFlushed)),
		dur.Truncate(time.Millisecond),
		humanize.Comma(int64(rate)),
	)
}
