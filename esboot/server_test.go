package esboot_test

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tidwall/gjson"
)

// fakeCluster answers the requests the Elasticsearch service makes on start
// and collects bulk indexed documents.
type fakeCluster struct {
	*httptest.Server

	mu   sync.Mutex
	docs []string
}

func newFakeCluster(t *testing.T) *fakeCluster {
	t.Helper()

	c := &fakeCluster{}
	c.Server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.Close)

	return c
}

func (c *fakeCluster) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/":
		fmt.Fprint(w, `{"cluster_name":"fake","version":{"number":"7.17.1","build_flavor":"default"},"tagline":"You Know, for Search"}`) //nolint:lll
	case strings.HasSuffix(r.URL.Path, "/_search"):
		fmt.Fprint(w, `{"hits":{"total":{"value":0},"hits":[]}}`)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		c.bulk(w, r)
	default:
		fmt.Fprint(w, `{"acknowledged":true}`)
	}
}

func (c *fakeCluster) bulk(w http.ResponseWriter, r *http.Request) {
	var items []string

	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// action lines alternate with document lines
		if gjson.Get(line, "index").Exists() {
			items = append(items, `{"index":{"_index":"logs","status":201}}`)

			continue
		}

		c.mu.Lock()
		c.docs = append(c.docs, line)
		c.mu.Unlock()
	}

	fmt.Fprintf(w, `{"took":1,"errors":false,"items":[%s]}`, strings.Join(items, ","))
}

func (c *fakeCluster) Docs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.docs...)
}
