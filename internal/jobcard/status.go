package jobcard

import (
	"fmt"
	"time"
)

// CheckTransition enforces the only restriction of the status machine:
// write_off is terminal unless the change is corrective.
func CheckTransition(from, to Status, corrective bool) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if from == to || corrective {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: cannot move to %s", ErrTerminalStatus, to)
	}
	return nil
}

// stampStatus sets completed_at and delivered_at the first time the job
// enters those states. Existing stamps are kept.
func stampStatus(job *Job, at time.Time) {
	switch job.Status {
	case StatusCompleted:
		if job.CompletedAt == nil {
			t := at
			job.CompletedAt = &t
		}
	case StatusDelivered:
		if job.DeliveredAt == nil {
			t := at
			job.DeliveredAt = &t
		}
	}
}
