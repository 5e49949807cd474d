package app

import (
	"errors"
	"io"

	"admissions-workflow/backend/internal/config"
	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
)

// Recorders is the configured history fan-out. The store recorder always
// comes first and is also the history reader.
type Recorders struct {
	Recorder history.Recorder
	Reader   history.Reader
	closers  []io.Closer
}

// Close flushes and closes the optional sinks.
func (r *Recorders) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewRecorders builds the history sinks named in cfg on top of the
// backend's history table.
func NewRecorders(cfg *config.Config, b *Backend, logger *logging.Logger) (*Recorders, error) {
	store := history.NewStoreRecorder(b.History)
	r := &Recorders{Reader: store}
	fanout := history.Fanout{store}

	if cfg.History.LogFile != "" {
		z, err := history.NewZapRecorder(cfg.History.LogFile)
		if err != nil {
			return nil, err
		}
		fanout = append(fanout, z)
		r.closers = append(r.closers, z)
		logger.Info("recording transitions to log file", "file", cfg.History.LogFile)
	}

	if redis := cfg.History.Redis; redis.Enabled {
		rs := history.NewRedisStreamRecorder(history.RedisConfig{
			Addrs:    redis.Addrs,
			Password: redis.Password,
			Stream:   redis.Stream,
			MaxLen:   redis.MaxLen,
			Timeout:  redis.Timeout,
		})
		fanout = append(fanout, rs)
		r.closers = append(r.closers, rs)
		logger.Info("publishing transitions to redis stream", "addrs", redis.Addrs, "stream", redis.Stream)
	}

	r.Recorder = fanout
	return r, nil
}
