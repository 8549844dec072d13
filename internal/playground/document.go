package playground

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/agent-playground/internal/configdoc"
)

func (e *TrainingEntry) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return fmt.Errorf("playground: training entry: %w", err)
	}
	*e = TrainingEntry{}
	take(fields, "id", &e.ID)
	take(fields, "type", &e.Type)
	take(fields, "source", &e.Source)
	take(fields, "word_count", &e.WordCount)
	takeTime(fields, "created_at", &e.CreatedAt)
	e.extra = leftover(fields)
	return nil
}

func (e TrainingEntry) MarshalJSON() ([]byte, error) {
	out := cloneFields(e.extra)
	out["id"] = e.ID
	if e.Type != "" {
		out["type"] = e.Type
	}
	if e.Source != "" {
		out["source"] = e.Source
	}
	out["word_count"] = e.WordCount
	if !e.CreatedAt.IsZero() {
		out["created_at"] = e.CreatedAt
	}
	return json.Marshal(out)
}

func (a *Agent) UnmarshalJSON(data []byte) error {
	fields, err := rawFields(data)
	if err != nil {
		return fmt.Errorf("playground: agent: %w", err)
	}
	*a = Agent{}
	take(fields, "id", &a.ID)
	take(fields, "client_id", &a.ClientID)
	take(fields, "name", &a.Name)
	if raw, ok := fields["config"]; ok {
		if isNull(raw) {
			delete(fields, "config")
		} else if cfg, err := configdoc.Decode(bytes.NewReader(raw)); err == nil {
			a.Config = cfg
			delete(fields, "config")
		}
	}
	take(fields, "training_data", &a.TrainingData)
	takeTime(fields, "updated_at", &a.UpdatedAt)
	a.extra = leftover(fields)
	return nil
}

func (a Agent) MarshalJSON() ([]byte, error) {
	out := cloneFields(a.extra)
	out["id"] = a.ID
	if a.ClientID != "" {
		out["client_id"] = a.ClientID
	}
	if a.Name != "" {
		out["name"] = a.Name
	}
	if a.Config != nil {
		out["config"] = a.Config
	}
	training := a.TrainingData
	if training == nil {
		training = []TrainingEntry{}
	}
	out["training_data"] = training
	if !a.UpdatedAt.IsZero() {
		out["updated_at"] = a.UpdatedAt
	}
	return json.Marshal(out)
}

func rawFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

// take decodes fields[key] into dst and removes it. A value that does not
// fit dst stays in fields and is written back verbatim.
func take(fields map[string]json.RawMessage, key string, dst any) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	if isNull(raw) {
		delete(fields, key)
		return
	}
	if err := json.Unmarshal(raw, dst); err == nil {
		delete(fields, key)
	}
}

// takeTime keeps unparseable or zero timestamps raw.
func takeTime(fields map[string]json.RawMessage, key string, dst *time.Time) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil || t.IsZero() {
		return
	}
	*dst = t
	delete(fields, key)
}

func leftover(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func cloneFields(extra map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(extra)+6)
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
