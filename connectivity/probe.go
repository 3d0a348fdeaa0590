package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/transport"
	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

const (
	DefaultProbeInterval  = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultProbeThreshold = 2
)

type ProbeSensorConfig struct {
	URL              string        `yaml:"url" json:"url"`
	Method           string        `yaml:"method" json:"method"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
}

// ProbeSensor decides reachability by polling one URL. Transitions are
// debounced: going offline takes FailureThreshold consecutive failures, going
// online takes a single success. Subscribers hear transitions only.
type ProbeSensor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	config    *ProbeSensorConfig
	client    *fasthttp.Client
	online    bool
	failures  int
	subs      map[int64]func(online bool)
	nextSubID int64
	mu        sync.RWMutex
	stopProbe chan struct{}
	probeDone chan struct{}
	started   int32
}

func NewProbeSensor(ctx context.Context, logger types.Logger, config interface{}) (*ProbeSensor, error) {
	sensorConfig := &ProbeSensorConfig{
		Method:           fasthttp.MethodHead,
		Interval:         DefaultProbeInterval,
		Timeout:          DefaultProbeTimeout,
		FailureThreshold: DefaultProbeThreshold,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sensorConfig); err != nil {
			return nil, types.WrapError(err, "failed to parse probe sensor config")
		}
	}

	if sensorConfig.URL == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "probe url is required")
	}
	if sensorConfig.Method == "" {
		sensorConfig.Method = fasthttp.MethodHead
	}
	if sensorConfig.Interval <= 0 {
		sensorConfig.Interval = DefaultProbeInterval
	}
	if sensorConfig.Timeout <= 0 {
		sensorConfig.Timeout = DefaultProbeTimeout
	}
	if sensorConfig.FailureThreshold <= 0 {
		sensorConfig.FailureThreshold = DefaultProbeThreshold
	}

	probeCtx, cancel := context.WithCancel(ctx)

	return &ProbeSensor{
		ctx:    probeCtx,
		cancel: cancel,
		logger: logger,
		config: sensorConfig,
		client: &fasthttp.Client{
			ReadTimeout:  sensorConfig.Timeout,
			WriteTimeout: sensorConfig.Timeout,
		},
		subs:      make(map[int64]func(online bool)),
		stopProbe: make(chan struct{}),
		probeDone: make(chan struct{}),
	}, nil
}

func (p *ProbeSensor) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	// First probe runs inline so IsOnline is meaningful right after Start.
	initial := p.probe()
	p.mu.Lock()
	p.online = initial
	if !initial {
		p.failures = 1
	}
	p.mu.Unlock()

	go p.probeLoop()

	p.logger.Info("Probe sensor started",
		zap.String("url", p.config.URL),
		zap.Duration("interval", p.config.Interval),
		zap.Bool("online", initial))
	return nil
}

func (p *ProbeSensor) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	p.cancel()

	select {
	case <-p.stopProbe:
	default:
		close(p.stopProbe)
	}

	select {
	case <-p.probeDone:
	case <-time.After(5 * time.Second):
		p.logger.Warn("Probe loop did not stop in time")
	}

	p.logger.Info("Probe sensor stopped gracefully")
	return nil
}

func (p *ProbeSensor) IsRunning() bool {
	return atomic.LoadInt32(&p.started) == 1
}

func (p *ProbeSensor) IsOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *ProbeSensor) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *ProbeSensor) probeLoop() {
	defer close(p.probeDone)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.stopProbe:
			return
		case <-ticker.C:
			p.observe(p.probe())
		}
	}
}

func (p *ProbeSensor) probe() bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.config.URL)
	req.Header.SetMethod(p.config.Method)

	// Any response proves the path; server-side errors are the executor's
	// problem, not a connectivity signal.
	err := p.client.DoTimeout(req, resp, p.config.Timeout)
	if err == nil {
		return true
	}

	if !transport.IsNetworkError(err) {
		p.logger.Debug("Probe failed for a non-network reason", zap.Error(err))
	}
	return false
}

// observe feeds one probe outcome into the debounce state machine.
func (p *ProbeSensor) observe(reachable bool) {
	var flipped, nowOnline bool

	p.mu.Lock()
	if reachable {
		p.failures = 0
		if !p.online {
			p.online = true
			flipped, nowOnline = true, true
		}
	} else {
		p.failures++
		if p.online && p.failures >= p.config.FailureThreshold {
			p.online = false
			flipped, nowOnline = true, false
		}
	}
	p.mu.Unlock()

	if flipped {
		p.logger.Info("Connectivity changed",
			zap.Bool("online", nowOnline),
			zap.String("url", p.config.URL))
		p.notify(nowOnline)
	}
}

func (p *ProbeSensor) notify(online bool) {
	p.mu.RLock()
	handlers := make([]func(bool), 0, len(p.subs))
	for _, fn := range p.subs {
		handlers = append(handlers, fn)
	}
	p.mu.RUnlock()

	for _, fn := range handlers {
		fn(online)
	}
}
