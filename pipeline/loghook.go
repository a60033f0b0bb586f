package pipeline

import (
	"context"

	"github.com/seliseblocks/lmt/logging"
	"github.com/seliseblocks/lmt/record"
)

// LogHook returns a logging.LogHook that feeds every host log entry into
// the pipeline. Install it with logging.SetHook to ship the process's own
// structured logs alongside application telemetry.
func (p *Pipeline) LogHook() logging.LogHook {
	return func(level logging.Level, msg string, attrs map[string]interface{}) {
		_ = p.EnqueueLog(context.Background(), record.Log{
			Level:      string(level),
			Message:    msg,
			Properties: attrs,
		})
	}
}
