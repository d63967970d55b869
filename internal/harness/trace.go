package harness

import (
	"bytes"
	"fmt"

	"github.com/roach88/syncmap/internal/store"
	"github.com/roach88/syncmap/internal/value"
)

// TraceEvent is what one step did and what it observed after the loop
// drained. Zero-valued fields are left out of the encoded trace.
type TraceEvent struct {
	Step   int
	Op     string
	Name   string
	Target string

	// Action is the action type a mutation or push produced.
	Action   string
	ActionID string
	Seq      int64
	State    string
	Reason   string

	Status  string
	Error   string
	Undo    string
	Fields  value.Map
	IDs     []string
	Loading *bool
}

// Value converts the event into a map for JSON encoding.
func (e TraceEvent) Value() value.Map {
	m := value.Map{
		"step": value.Int(e.Step),
		"op":   value.String(e.Op),
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = value.String(v)
		}
	}
	put("name", e.Name)
	put("target", e.Target)
	put("action", e.Action)
	put("action_id", e.ActionID)
	put("state", e.State)
	put("reason", e.Reason)
	put("status", e.Status)
	put("error", e.Error)
	put("undo", e.Undo)
	if e.Seq != 0 {
		m["seq"] = value.Int(e.Seq)
	}
	if len(e.Fields) > 0 {
		m["fields"] = e.Fields.Clone()
	}
	if e.IDs != nil {
		ids := make(value.List, len(e.IDs))
		for i, id := range e.IDs {
			ids[i] = value.String(id)
		}
		m["ids"] = ids
	}
	if e.Loading != nil {
		m["loading"] = value.Bool(*e.Loading)
	}
	return m
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool

	// Trace has one event per step, in order.
	Trace []TraceEvent

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string

	// Journal is the final local action journal.
	Journal []store.JournalRow
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EncodeTrace renders a trace as JSON Lines: a header naming the scenario,
// then one line per event. Keys are sorted, so equal traces encode to
// equal bytes.
func EncodeTrace(scenario *Scenario, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	header := value.Map{"scenario": value.String(scenario.Name)}
	if scenario.Description != "" {
		header["description"] = value.String(scenario.Description)
	}
	if err := writeLine(&buf, header); err != nil {
		return nil, err
	}
	for _, ev := range trace {
		if err := writeLine(&buf, ev.Value()); err != nil {
			return nil, fmt.Errorf("step %d: %w", ev.Step, err)
		}
	}
	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, m value.Map) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
