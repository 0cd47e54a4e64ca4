package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/workbay/workbay/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskShadowScan runs one shadow audit pass.
	TaskShadowScan = "shadow:scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ShadowScanPayload records who asked for a scan. The scheduler leaves it empty.
type ShadowScanPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewShadowScanTask constructs the scan task. Only one scan may sit in the
// queue at a time, so a burst of requests collapses into a single run.
func NewShadowScanTask(payload ShadowScanPayload, uniqueFor time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(1)}
	if uniqueFor > 0 {
		opts = append(opts, asynq.Unique(uniqueFor))
	}
	return asynq.NewTask(TaskShadowScan, data, opts...), nil
}
