package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultJobTimeout      = 30 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Manager schedules background jobs with a seconds-resolution cron. Every
// job runs under a timeout context and a panic guard, and keeps running
// stats in the jobs registry.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	timezone        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	activeJobs      map[string]context.CancelFunc
	activeJobsMu    sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CronManager, error) {
	cronConfig := config.GetConfig().Cron
	if cronConfig == nil || !cronConfig.Enabled {
		return nil, types.ErrCronIsDisabled
	}

	timezone, err := time.LoadLocation(cronConfig.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, falling back to UTC",
			zap.String("timezone", cronConfig.Timezone))
		timezone = time.UTC
	}

	cronL := safeCronLogger{logger: logger}

	cronOptions := []cron.Option{
		cron.WithLocation(timezone),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		cron:            cron.New(cronOptions...),
		timezone:        timezone,
		jobs:            make(map[string]*types.JobEntry),
		activeJobs:      make(map[string]context.CancelFunc),
		shutdown:        make(chan struct{}),
		shutdownTimeout: DefaultShutdownTimeout,
		jobTimeout:      DefaultJobTimeout,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	if spec == "" {
		return types.ErrCronExpressionInvalid
	}

	if job == nil {
		return types.ErrCronJobIsNil
	}

	return m.addJob(jobName, spec, m.wrapJob(jobName, job))
}

func (m *Manager) Remove(jobName string) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}

	m.mu.Lock()
	entry, exists := m.jobs[jobName]
	if !exists {
		m.mu.Unlock()
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)
	m.mu.Unlock()

	m.cancelActiveJob(jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

// Jobs returns a snapshot of the registry with current run stats.
func (m *Manager) Jobs() map[string]types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]types.JobEntry, len(m.jobs))
	for name, entry := range m.jobs {
		snapshot[name] = *entry
	}
	return snapshot
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.cron.Start()

	m.setSchedulerStatus(1)
	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) &&
		!m.transitionState(StateStarting, StateStopping) {
		return types.ErrComponentNotRunning
	}

	var err error
	m.shutdownOnce.Do(func() {
		defer func() {
			m.setState(StateStopped)
			m.cancel()
		}()

		close(m.shutdown)
		err = m.stop()
		m.setSchedulerStatus(0)
		m.setActiveJobsGauge(0)

		if err == nil {
			m.logger.Info("Cron scheduler stopped gracefully")
		}
	})

	return err
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	return m.state.CompareAndSwap(m.getState(), newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// wrapJob runs the job on its own goroutine so the scheduler thread can
// enforce the timeout. The job error is read only after the done channel
// closes, which orders the write before the read.
func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		select {
		case <-m.shutdown:
			m.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		m.logger.Debug("Cron job started", zap.String("job_name", jobName))
		m.updateJobStatsStart(jobName, startTime)

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		if !m.registerActiveJob(jobName, cancel) {
			m.logger.Info("Job cancelled due to manager shutdown", zap.String("job_name", jobName))
			return
		}
		defer m.cancelActiveJob(jobName)

		m.incActiveJobsGauge()
		defer m.decActiveJobsGauge()

		done := make(chan struct{})
		var jobErr error

		go func() {
			defer func() {
				if r := recover(); r != nil {
					jobErr = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
					m.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
				close(done)
			}()
			job()
		}()

		var err error
		select {
		case <-done:
			err = jobErr
		case <-jobCtx.Done():
			if types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
				err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
			} else {
				err = types.WrapError(jobCtx.Err(), "job canceled")
			}

			m.logger.Error("Cron job interrupted",
				zap.String("job_name", jobName),
				zap.Error(err))

			gracefulTimer := time.NewTimer(5 * time.Second)
			select {
			case <-done:
				gracefulTimer.Stop()
			case <-gracefulTimer.C:
				m.logger.Warn("Job goroutine did not finish after interrupt",
					zap.String("job_name", jobName))
			}
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
			m.incJobErrorsCounter(jobName)
		}

		m.incJobExecutionsCounter(jobName, result)
		m.observeJobDuration(jobName, duration.Seconds())
		m.updateJobStatsFinish(jobName, duration, err)

		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			m.logger.Info("Cron job completed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration))
		}
	}
}

func (m *Manager) addJob(jobName, spec string, job func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdown:
		return types.ErrCronSchedulerStopped
	default:
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := m.cron.AddFunc(spec, job)
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "spec %q: %v", spec, err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     job,
		Timeout: m.jobTimeout,
		AddedAt: time.Now(),
	}

	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.activeJobsMu.Lock()
		activeJobs := make(map[string]context.CancelFunc, len(m.activeJobs))
		for jobName, cancelJob := range m.activeJobs {
			activeJobs[jobName] = cancelJob
		}
		m.activeJobs = make(map[string]context.CancelFunc)
		m.activeJobsMu.Unlock()

		for jobName, cancelJob := range activeJobs {
			cancelJob()
			m.logger.Debug("Cancelled job during shutdown", zap.String("job_name", jobName))
		}
		return nil
	})

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.logger.Warn("Cron manager stop timeout, some jobs may not have stopped gracefully")
		default:
			m.logger.Error("Error during cron manager shutdown", zap.Error(err))
		}
		return err
	}

	return nil
}

func (m *Manager) registerActiveJob(jobName string, cancel context.CancelFunc) bool {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	select {
	case <-m.shutdown:
		return false
	default:
	}

	// An overlapping run of the same job supersedes the previous one.
	if oldCancel, exists := m.activeJobs[jobName]; exists {
		oldCancel()
	}

	m.activeJobs[jobName] = cancel
	return true
}

func (m *Manager) cancelActiveJob(jobName string) {
	m.activeJobsMu.Lock()
	defer m.activeJobsMu.Unlock()

	if cancel, exists := m.activeJobs[jobName]; exists {
		cancel()
		delete(m.activeJobs, jobName)
	}
}

func (m *Manager) updateJobStatsStart(jobName string, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.Error = nil

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) updateJobStatsFinish(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.Error = err
	entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) incJobExecutionsCounter(jobName, result string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
}

func (m *Manager) incJobErrorsCounter(jobName string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cron_job_errors_total", map[string]string{
		"job_name": jobName,
	}).Inc()
}

func (m *Manager) observeJobDuration(jobName string, seconds float64) {
	if m.metrics == nil {
		return
	}

	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0, 1800.0},
		map[string]string{"job_name": jobName},
	).Observe(seconds)
}

func (m *Manager) incActiveJobsGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_active_jobs", nil).Inc()
}

func (m *Manager) decActiveJobsGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_active_jobs", nil).Dec()
}

func (m *Manager) setActiveJobsGauge(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_active_jobs", nil).Set(value)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

// safeCronLogger adapts the zap wrapper to the cron.Logger interface. The
// Recover chain calls it mid-panic, so it must never panic itself.
type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	defer func() {
		_ = recover()
	}()

	l.logger.Info(msg, cronFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	defer func() {
		_ = recover()
	}()

	fields := append(cronFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
