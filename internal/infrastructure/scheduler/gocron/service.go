package timescheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/lockforge/lockd/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleTask never runs two instances of task at once: a run still in
// progress when the next one is due delays it.
func (s *service) ScheduleTask(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	_, err := s.scheduler.Every(interval).SingletonMode().WaitForSchedule().Do(task)
	return err
}

func (s *service) ScheduleTaskOnce(at time.Time, task func()) error {
	delay := time.Until(at)
	if delay <= 0 {
		return fmt.Errorf("cannot schedule task in the past")
	}

	_, err := s.scheduler.Every(delay).WaitForSchedule().LimitRunsTo(1).Do(task)
	return err
}
