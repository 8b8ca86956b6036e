package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/lockforge/lockd/internal/core/ports"
	timescheduler "github.com/lockforge/lockd/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

type service struct {
	name      string
	scheduler ports.SchedulerService
}

func TestScheduleTaskOnce(t *testing.T) {
	t.Parallel()

	svcs := servicesToTest(t)

	for _, svc := range svcs {
		t.Run(svc.name, func(t *testing.T) {
			var calls atomic.Int32
			handlerFunc := func() {
				calls.Add(1)
			}

			err := svc.scheduler.ScheduleTaskOnce(time.Now().Add(time.Second), handlerFunc)
			require.NoError(t, err)

			err = svc.scheduler.ScheduleTaskOnce(time.Now().Add(-time.Second), handlerFunc)
			require.Error(t, err)

			require.Eventually(t, func() bool {
				return calls.Load() == 1
			}, 5*time.Second, 50*time.Millisecond)

			time.Sleep(1500 * time.Millisecond)
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestScheduleTask(t *testing.T) {
	t.Parallel()

	svcs := servicesToTest(t)

	for _, svc := range svcs {
		t.Run(svc.name, func(t *testing.T) {
			var calls atomic.Int32
			err := svc.scheduler.ScheduleTask(200*time.Millisecond, func() {
				calls.Add(1)
			})
			require.NoError(t, err)

			err = svc.scheduler.ScheduleTask(0, func() {})
			require.Error(t, err)

			require.Eventually(t, func() bool {
				return calls.Load() >= 3
			}, 5*time.Second, 50*time.Millisecond)
		})
	}
}

func servicesToTest(t *testing.T) []service {
	svcs := []service{
		{name: "gocron", scheduler: timescheduler.NewScheduler()},
	}

	for _, svc := range svcs {
		svc.scheduler.Start()
		t.Cleanup(func() { svc.scheduler.Stop() })
	}

	return svcs
}
