package event

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable
// key=value lines or as JSONL.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter builds a LogEmitter. A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(e Event) {
	if l.jsonMode {
		l.emitJSON(e)
		return
	}
	l.emitText(e)
}

func (l *LogEmitter) emitJSON(e Event) {
	data, err := json.Marshal(struct {
		FlowID     string         `json:"flowID"`
		FlowName   string         `json:"flowName"`
		Kind       Kind           `json:"kind"`
		MethodName string         `json:"methodName,omitempty"`
		Priority   Priority       `json:"priority"`
		Meta       map[string]any `json:"meta,omitempty"`
	}{e.FlowID, e.FlowName, e.Kind, e.MethodName, e.Priority, e.Meta})
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(e Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] flow=%s flowID=%s", e.Kind, e.FlowName, e.FlowID)
	if e.MethodName != "" {
		_, _ = fmt.Fprintf(l.writer, " method=%s", e.MethodName)
	}
	if len(e.Meta) > 0 {
		if metaJSON, err := json.Marshal(e.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously with no internal buffer.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
