package alert

import (
	"context"
	"fmt"
	"strconv"

	"github.com/andresmejia3/fallwatch/internal/types"
	"github.com/go-redis/redis/v8"
)

// DefaultStream is the Redis stream alerts are appended to.
const DefaultStream = "fallwatch:alerts"

// RedisSink appends each alert to a Redis stream with XADD.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink wraps an existing client. maxLen > 0 caps the stream approximately.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Deliver implements Sink. The snapshot is not published; consumers fetch the
// artifact by name.
func (s *RedisSink) Deliver(ctx context.Context, ev types.AlertEvent, _ []byte) error {
	data, err := marshalEvent(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"sequence":    strconv.FormatInt(ev.Sequence, 10),
			"identity":    ev.Identity,
			"frame_index": strconv.Itoa(ev.FrameIndex),
			"artifact":    ArtifactName(ev.Sequence),
			"data":        string(data),
			"timestamp":   strconv.FormatInt(ev.Timestamp.Unix(), 10),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
