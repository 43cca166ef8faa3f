// Package test captures zerolog output so tests can assert on log lines.
package test

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Logger is an io.Writer collecting JSON log lines, e.g.
//
//	log := &test.Logger{}
//	app := appboot.New("demo", "1.0.0", appboot.WithLogger(zerolog.New(log)))
type Logger struct {
	mu  sync.Mutex
	out []byte
}

func (log *Logger) Write(p []byte) (n int, err error) {
	log.mu.Lock()
	defer log.mu.Unlock()

	log.out = append(log.out, p...)

	return len(p), nil
}

// Lines returns every log line decoded as a map.
func (log *Logger) Lines() (result []map[string]interface{}) {
	log.mu.Lock()
	raw := strings.TrimSpace(string(log.out))
	log.mu.Unlock()

	if raw == "" {
		return nil
	}

	for _, line := range strings.Split(raw, "\n") {
		fields, _ := gjson.Parse(line).Value().(map[string]interface{})
		if fields == nil {
			fields = make(map[string]interface{})
		}

		result = append(result, fields)
	}

	return result
}

func (log *Logger) LastLine() (result map[string]interface{}) {
	lines := log.Lines()
	if len(lines) == 0 {
		return map[string]interface{}{}
	}

	return lines[len(lines)-1]
}

// Messages returns the message field of every log line.
func (log *Logger) Messages() []string {
	var result []string

	for _, line := range log.Lines() {
		msg, _ := line["message"].(string)
		result = append(result, msg)
	}

	return result
}

// Contains reports whether any line has exactly message msg.
func (log *Logger) Contains(msg string) bool {
	for _, m := range log.Messages() {
		if m == msg {
			return true
		}
	}

	return false
}
