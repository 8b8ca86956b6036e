package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()
	// ScheduleTask runs task every interval until the scheduler is stopped.
	ScheduleTask(interval time.Duration, task func()) error
	// ScheduleTaskOnce runs task once at the given time.
	ScheduleTaskOnce(at time.Time, task func()) error
}
