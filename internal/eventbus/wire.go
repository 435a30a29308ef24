package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// wireEvent is the JSON-on-the-wire shape for Event: compact field names
// matching the external interface grammar (id, topic, type, timestamp, payload).
type wireEvent struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Subtype   string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EncodeLine writes ev to w as a single JSON object followed by a newline.
func EncodeLine(w io.Writer, ev Event) error {
	line, err := json.Marshal(wireEvent{ID: ev.ID, Topic: ev.Topic, Subtype: ev.Subtype, Timestamp: ev.Timestamp, Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("eventbus: encoding event: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eventbus: writing event line: %w", err)
	}
	return nil
}

// DecodeLine reads one newline-terminated JSON event from r.
func DecodeLine(r *bufio.Reader) (Event, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Event{}, err
	}
	var we wireEvent
	if err := json.Unmarshal(line, &we); err != nil {
		return Event{}, fmt.Errorf("eventbus: decoding event line: %w", err)
	}
	return Event{ID: we.ID, Topic: we.Topic, Subtype: we.Subtype, Timestamp: we.Timestamp, Payload: we.Payload}, nil
}
