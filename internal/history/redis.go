package history

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"admissions-workflow/backend/pkg/models"

	rd "github.com/go-redis/redis/v9"
)

// streamWriter is the part of rd.UniversalClient the recorder needs.
type streamWriter interface {
	XAdd(ctx context.Context, a *rd.XAddArgs) *rd.StringCmd
}

// RedisConfig configures RedisStreamRecorder.
type RedisConfig struct {
	Addrs    []string
	Password string
	Stream   string
	// MaxLen caps the stream length approximately; zero keeps everything.
	MaxLen int64
	// Timeout bounds each publish, dial included. Zero means
	// DefaultRedisTimeout.
	Timeout time.Duration
}

// DefaultRedisTimeout keeps a Redis outage from stalling transitions.
const DefaultRedisTimeout = 500 * time.Millisecond

// RedisStreamRecorder publishes each record as an entry on a Redis stream so
// other services (notifications, reporting) can consume stage changes.
type RedisStreamRecorder struct {
	client  streamWriter
	stream  string
	maxLen  int64
	timeout time.Duration
}

// NewRedisStreamRecorder connects to the configured Redis deployment.
func NewRedisStreamRecorder(conf RedisConfig) *RedisStreamRecorder {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:        conf.Addrs,
		Password:     conf.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	return newRedisStreamRecorder(client, conf.Stream, conf.MaxLen, timeout)
}

func newRedisStreamRecorder(client streamWriter, stream string, maxLen int64, timeout time.Duration) *RedisStreamRecorder {
	return &RedisStreamRecorder{client: client, stream: stream, maxLen: maxLen, timeout: timeout}
}

// Record publishes rec. The call gives up after the configured timeout
// even when ctx has a later deadline.
func (r *RedisStreamRecorder) Record(ctx context.Context, rec *models.TransitionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.client.XAdd(ctx, &rd.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]any{
			"id":             rec.ID,
			"application_id": rec.ApplicationID,
			"workflow_id":    rec.WorkflowID,
			"from_stage_id":  rec.FromStageID,
			"to_stage_id":    rec.ToStageID,
			"transition_id":  rec.TransitionID,
			"automatic":      strconv.FormatBool(rec.Automatic),
			"actor":          rec.Actor,
			"occurred_at":    rec.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStreamRecorder) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
