package esboot_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/esboot"
	"github.com/nielskrijger/appboot/test"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var mockStats = esutil.BulkIndexerStats{
	NumAdded:    uint64(1),
	NumFlushed:  uint64(2),
	NumFailed:   uint64(0),
	NumIndexed:  uint64(3),
	NumCreated:  uint64(4),
	NumUpdated:  uint64(5),
	NumDeleted:  uint64(6),
	NumRequests: uint64(7),
}

type mockBulkIndexer struct {
	bulkStats esutil.BulkIndexerStats
}

func (m mockBulkIndexer) Add(context.Context, esutil.BulkIndexerItem) error {
	return nil
}

func (m mockBulkIndexer) Close(context.Context) error {
	return nil
}

func (m mockBulkIndexer) Stats() esutil.BulkIndexerStats {
	return m.bulkStats
}

func TestLogBulkStats_Success(t *testing.T) {
	log := &test.Logger{}
	bulkIndexer := mockBulkIndexer{bulkStats: mockStats}

	esboot.LogBulkStats(zerolog.New(log), bulkIndexer, 2*time.Second)

	assert.Equal(t, "finished indexing 2 Elasticsearch documents in 2s (1 docs/sec)", log.LastLine()["message"])
	assert.Equal(t, "info", log.LastLine()["level"])
}

func TestLogBulkStats_Failed(t *testing.T) {
	log := &test.Logger{}
	mockStatsClone := mockStats
	mockStatsClone.NumFailed = 3
	bulkIndexer := mockBulkIndexer{bulkStats: mockStatsClone}

	esboot.LogBulkStats(zerolog.New(log), bulkIndexer, 100*time.Millisecond)

	assert.Equal(t,
		"finished indexing 2 Elasticsearch documents with 3 errors in 100ms (20 docs/sec)",
		log.LastLine()["message"],
	)
	assert.Equal(t, "error", log.LastLine()["level"])
}

func TestLogBulkStats_Thousands(t *testing.T) {
	log := &test.Logger{}
	bulkIndexer := mockBulkIndexer{bulkStats: esutil.BulkIndexerStats{NumFlushed: 12000}}

	esboot.LogBulkStats(zerolog.New(log), bulkIndexer, 0)

	assert.Equal(t, "finished indexing 12,000 Elasticsearch documents in 0s (12,000 docs/sec)", log.LastLine()["message"])
}

func TestLogIndexer_IndexesApplicationLog(t *testing.T) {
	cluster := newFakeCluster(t)
	log := &test.Logger{}
	indexer := &esboot.LogIndexer{}
	app := startApp(t, log, map[string]string{"elasticsearch.addresses": cluster.URL}, indexer)
	ts := time.Date(2022, 9, 1, 12, 0, 0, 0, time.UTC)

	app.Log(context.Background(), ts, zerolog.WarnLevel, "disk %d%% full", 95)
	app.Log(context.Background(), ts, zerolog.InfoLevel, "backup done")

	// the indexer started the Elasticsearch service it depends on
	started := app.StartedServices()
	require.Len(t, started, 2)
	assert.IsType(t, &esboot.Elasticsearch{}, started[0])
	assert.Same(t, indexer, started[1])

	require.NoError(t, app.Stop())

	docs := cluster.Docs()
	require.Len(t, docs, 2)
	assert.Equal(t, "disk 95% full", gjson.Get(docs[0], "message").String())
	assert.Equal(t, "warn", gjson.Get(docs[0], "level").String())
	assert.Equal(t, "estest", gjson.Get(docs[0], "app").String())
	assert.Equal(t, "2022-09-01T12:00:00Z", gjson.Get(docs[0], "@timestamp").String())
	assert.Equal(t, "backup done", gjson.Get(docs[1], "message").String())

	var stats string

	for _, msg := range log.Messages() {
		if strings.HasPrefix(msg, "finished indexing ") {
			stats = msg
		}
	}

	assert.Contains(t, stats, "finished indexing 2 Elasticsearch documents in")
}

func TestLogIndexer_ErrorWithoutElasticsearch(t *testing.T) {
	indexer := &esboot.LogIndexer{}
	app := startApp(t, nil, nil, indexer)

	_, err := app.Service(context.Background(), appboot.TypeOf[appboot.LogSink](), false)

	assert.EqualError(t, err, "property \"elasticsearch.addresses\" is required")
	assert.False(t, indexer.IsRunning())
}
