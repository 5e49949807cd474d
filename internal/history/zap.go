package history

import (
	"context"
	"os"

	"admissions-workflow/backend/pkg/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapRecorder appends records as JSON lines through a dedicated zap logger,
// usually to an audit file.
type ZapRecorder struct {
	logger *zap.Logger
	file   *os.File
}

// NewZapRecorder creates a ZapRecorder that appends to fileName.
func NewZapRecorder(fileName string) (*ZapRecorder, error) {
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	r := NewZapRecorderWithCore(zapcore.AddSync(logFile))
	r.file = logFile
	return r, nil
}

// NewZapRecorderWithCore creates a ZapRecorder writing JSON to w.
func NewZapRecorderWithCore(w zapcore.WriteSyncer) *ZapRecorder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, zapcore.InfoLevel)
	return &ZapRecorder{logger: zap.New(core)}
}

func (r *ZapRecorder) Record(ctx context.Context, rec *models.TransitionRecord) error {
	r.logger.Info("stage_changed",
		zap.String("id", rec.ID),
		zap.String("application_id", rec.ApplicationID),
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("from_stage_id", rec.FromStageID),
		zap.String("to_stage_id", rec.ToStageID),
		zap.String("transition_id", rec.TransitionID),
		zap.Bool("automatic", rec.Automatic),
		zap.String("actor", rec.Actor),
		zap.Time("occurred_at", rec.OccurredAt),
	)
	return nil
}

// Close flushes buffered entries and closes the file opened by
// NewZapRecorder.
func (r *ZapRecorder) Close() error {
	err := r.logger.Sync()
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
