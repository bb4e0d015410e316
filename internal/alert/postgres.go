package alert

import (
	"context"

	"github.com/andresmejia3/fallwatch/internal/types"
)

// AlertWriter is the slice of store.Store the Postgres sink needs.
type AlertWriter interface {
	InsertAlert(ctx context.Context, ev types.AlertEvent, artifact string) error
}

// PostgresSink records alerts in the fall_alerts table.
type PostgresSink struct {
	DB AlertWriter
}

// Deliver implements Sink.
func (s PostgresSink) Deliver(ctx context.Context, ev types.AlertEvent, _ []byte) error {
	return s.DB.InsertAlert(ctx, ev, ArtifactName(ev.Sequence))
}
