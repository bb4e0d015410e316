// Package alert delivers confirmed fall events to persistence and notification backends.
package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/fallwatch/internal/types"
	"go.uber.org/multierr"
)

// Sink receives confirmed fall events. Implementations must honor ctx cancellation;
// the pipeline bounds every call with a deadline.
type Sink interface {
	Deliver(ctx context.Context, ev types.AlertEvent, snapshot []byte) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, ev types.AlertEvent, snapshot []byte) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, ev types.AlertEvent, snapshot []byte) error {
	return f(ctx, ev, snapshot)
}

// ArtifactName is the deterministic image name for the n-th alert (zero-based).
func ArtifactName(seq int64) string {
	return fmt.Sprintf("fall_detected_%d.jpg", seq)
}

// payload is the JSON document published by the message-based sinks.
type payload struct {
	types.AlertEvent
	Artifact string `json:"artifact"`
}

func marshalEvent(ev types.AlertEvent) ([]byte, error) {
	return json.Marshal(payload{AlertEvent: ev, Artifact: ArtifactName(ev.Sequence)})
}

// Fanout delivers every event to all of its sinks. A failing sink does not stop
// the others; their errors are combined.
type Fanout []Sink

// Deliver implements Sink.
func (f Fanout) Deliver(ctx context.Context, ev types.AlertEvent, snapshot []byte) error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Deliver(ctx, ev, snapshot))
	}
	return err
}

// Discard is a Sink that accepts and drops everything.
var Discard Sink = SinkFunc(func(context.Context, types.AlertEvent, []byte) error { return nil })
