package utils

import (
	"io"

	"github.com/rs/zerolog"
)

// Close closes c and logs a failure instead of returning it, for use in
// deferred calls:
//
//	defer utils.Close(s.log, res.Body, "Elasticsearch response body")
func Close(log zerolog.Logger, c io.Closer, what string) {
	if c == nil {
		return
	}

	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msgf("failed to close %s", what)
	}
}
