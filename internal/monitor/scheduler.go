package monitor

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs a task on a fixed interval until the returned cancel func is called.
// Cancel must stop future runs before it returns; a run already in progress may finish.
type Scheduler interface {
	Every(interval time.Duration, task func()) (cancel func(), err error)
}

// CronScheduler is the gocron-backed Scheduler. Every job gets its own timer and runs
// in its own goroutine, so a slow job never delays another.
type CronScheduler struct {
	scheduler *gocron.Scheduler
}

// NewCronScheduler creates and starts a CronScheduler.
func NewCronScheduler() *CronScheduler {
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()
	return &CronScheduler{scheduler: s}
}

// Every schedules task on interval; the first run happens one interval from now.
func (c *CronScheduler) Every(interval time.Duration, task func()) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %v", interval)
	}
	job, err := c.scheduler.Every(interval).WaitForSchedule().Do(task)
	if err != nil {
		return nil, err
	}
	return func() {
		c.scheduler.RemoveByReference(job)
	}, nil
}

// Stop stops the scheduler and cancels any future jobs.
func (c *CronScheduler) Stop() {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
}
