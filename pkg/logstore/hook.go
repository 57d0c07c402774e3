package logstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Hook persists logrus entries into a Store. Appends are best-effort, a
// failing sink never breaks the caller's logging.
type Hook struct {
	store  *Store
	levels []log.Level
}

// NewHook creates a hook persisting entries of the given levels. With no
// levels, info and above are persisted.
func NewHook(store *Store, levels ...log.Level) *Hook {
	if len(levels) == 0 {
		levels = []log.Level{
			log.PanicLevel, log.FatalLevel, log.ErrorLevel,
			log.WarnLevel, log.InfoLevel,
		}
	}
	return &Hook{store, levels}
}

func (h *Hook) Levels() []log.Level {
	return h.levels
}

func (h *Hook) Fire(entry *log.Entry) error {
	line := fmt.Sprintf(
		"[%s] [%s] %s",
		entry.Time.Format(time.RFC3339),
		strings.ToUpper(entry.Level.String()),
		entry.Message,
	)
	if len(entry.Data) > 0 {
		fields := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(fields)
		line = fmt.Sprintf("%s %s", line, strings.Join(fields, " "))
	}

	// nolint
	h.store.Append(line)
	return nil
}
