// Package notify provides cross-process workflow event notification
// between the tracking process and maintenance tooling using filesystem
// events.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is the payload written to an event file.
type Event struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Time       int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
// It satisfies workflow.EventSink.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify writes an event file with the given type.
// Safe to call concurrently. Errors are returned but not fatal.
//
// The file is written to a temp name and renamed into place so the
// watcher's Create event only ever fires on a complete file. Watchers
// key on the .event suffix, which the temp name does not carry.
func (w *EventWriter) Notify(eventType, workflowID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Time:       time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s.event", evt.Time, sanitizeID(workflowID))
	final := filepath.Join(w.dir, filename)

	tmp, err := os.CreateTemp(w.dir, "notify-*.tmp")
	if err != nil {
		return fmt.Errorf("notify: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("notify: write event: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("notify: close event: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("notify: rename event: %w", err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
