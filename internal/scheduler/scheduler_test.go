package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/aristath/fundtrack/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestAddJob(t *testing.T) {
	s := New(zerolog.Nop())

	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "maintenance:cache-cleanup"}))
	require.NoError(t, s.AddDailyJob(MustParseScheduleTime("09:30"), &countingJob{name: "dca:execute-due"}))

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "dca:execute-due", jobs[0].Name)
	assert.Equal(t, "0 30 9 * * *", jobs[0].Schedule)
	assert.Equal(t, "maintenance:cache-cleanup", jobs[1].Name)
}

func TestAddJob_Rejects(t *testing.T) {
	s := New(zerolog.Nop())

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "broken"}))
	assert.Empty(t, s.Jobs())

	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "dup"}))
	assert.Error(t, s.AddJob("@daily", &countingJob{name: "dup"}))

	assert.Error(t, s.AddDailyJob(ScheduleTime{Hour: 25}, &countingJob{name: "late"}))
}

func TestStartPopulatesNextRun(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@hourly", &countingJob{name: "hourly"}))

	s.Start()
	defer s.Stop()

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "manual", err: errors.New("boom")}

	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())

	// failures inside cron ticks are logged, not propagated
	s.runJob(job)
	assert.Equal(t, int32(2), job.runs.Load())
}

func TestRunJob_EmitsStatusEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	s := New(zerolog.Nop())
	s.SetEventManager(events.NewManager(bus, zerolog.Nop()))

	var got []*events.Event
	bus.Subscribe(events.JobCompleted, func(e *events.Event) { got = append(got, e) })
	bus.Subscribe(events.JobFailed, func(e *events.Event) { got = append(got, e) })

	s.runJob(&countingJob{name: "ok"})
	s.runJob(&countingJob{name: "bad", err: errors.New("boom")})

	require.Len(t, got, 2)
	assert.Equal(t, events.JobCompleted, got[0].Type)
	assert.Equal(t, "ok", got[0].Data["job_name"])
	assert.Equal(t, events.JobFailed, got[1].Type)
	assert.Equal(t, "boom", got[1].Data["error"])
}
