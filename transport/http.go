package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
	"github.com/saiset-co/sai-sync/utils"
)

const DefaultSendTimeout = 30 * time.Second

type HTTPTransportConfig struct {
	BaseURL         string            `yaml:"base_url" json:"base_url"`
	Timeout         time.Duration     `yaml:"timeout" json:"timeout"`
	DefaultHeaders  map[string]string `yaml:"default_headers" json:"default_headers"`
	MaxConnsPerHost int               `yaml:"max_conns_per_host" json:"max_conns_per_host"`
}

// HTTPTransport delivers mutations over HTTP. Classification is the whole
// contract here: every outcome maps to success, ErrTransientNetwork or
// ErrPermanentRejection, and the executor decides between retry and
// dead-letter. No retries happen inside Send.
type HTTPTransport struct {
	ctx     context.Context
	logger  types.Logger
	config  *HTTPTransportConfig
	client  *fasthttp.Client
	started int32
}

func NewHTTPTransport(ctx context.Context, logger types.Logger, config interface{}) (*HTTPTransport, error) {
	transportConfig := &HTTPTransportConfig{
		Timeout: DefaultSendTimeout,
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, transportConfig); err != nil {
			return nil, types.WrapError(err, "failed to parse transport config")
		}
	}

	if transportConfig.BaseURL == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "transport base_url is required")
	}
	if transportConfig.Timeout <= 0 {
		transportConfig.Timeout = DefaultSendTimeout
	}

	client := &fasthttp.Client{
		ReadTimeout:  transportConfig.Timeout,
		WriteTimeout: transportConfig.Timeout,
	}
	if transportConfig.MaxConnsPerHost > 0 {
		client.MaxConnsPerHost = transportConfig.MaxConnsPerHost
	}

	return &HTTPTransport{
		ctx:    ctx,
		logger: logger,
		config: transportConfig,
		client: client,
	}, nil
}

func (t *HTTPTransport) Start() error {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	t.logger.Info("HTTP transport started",
		zap.String("base_url", t.config.BaseURL),
		zap.Duration("timeout", t.config.Timeout))
	return nil
}

func (t *HTTPTransport) Stop() error {
	if !atomic.CompareAndSwapInt32(&t.started, 1, 0) {
		return types.ErrComponentNotRunning
	}

	t.client.CloseIdleConnections()

	t.logger.Info("HTTP transport stopped gracefully")
	return nil
}

func (t *HTTPTransport) IsRunning() bool {
	return atomic.LoadInt32(&t.started) == 1
}

func (t *HTTPTransport) Send(ctx context.Context, endpoint, method string, payload []byte, headers map[string]string) error {
	if !t.IsRunning() {
		return types.ErrComponentNotRunning
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(t.buildURL(endpoint))
	req.Header.SetMethod(method)

	if len(payload) > 0 {
		req.SetBody(payload)
		req.Header.SetContentType("application/json")
	}

	for key, value := range t.config.DefaultHeaders {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	timeout := t.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.Errorf(types.ErrTransientNetwork, "%s %s: %v", method, endpoint, ctx.Err())
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	err := t.client.DoTimeout(req, resp, timeout)
	return t.classify(endpoint, method, resp.StatusCode(), resp.Body(), err)
}

func (t *HTTPTransport) buildURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return t.config.BaseURL + endpoint
}

// classify maps the raw outcome to the two sentinel errors. Anything
// ambiguous counts as transient, so a mutation is never abandoned on a
// failure that might heal; the executor's retry cap bounds the damage.
func (t *HTTPTransport) classify(endpoint, method string, statusCode int, body []byte, err error) error {
	if err != nil {
		t.logger.Debug("Send failed before a response arrived",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return types.Errorf(types.ErrTransientNetwork, "%s %s: %v", method, endpoint, err)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == fasthttp.StatusRequestTimeout,
		statusCode == fasthttp.StatusTooManyRequests,
		statusCode >= 500:
		return types.Errorf(types.ErrTransientNetwork, "%s %s: HTTP %d", method, endpoint, statusCode)
	case statusCode >= 400:
		// The rejection reason ends up in the dead-letter entry; carry what
		// the server said. The snippet aliases the response buffer, so it is
		// materialized here, before the buffer is released.
		return types.Errorf(types.ErrPermanentRejection, "%s %s: HTTP %d: %s",
			method, endpoint, statusCode, utils.BytesToString(bodySnippet(body)))
	default:
		return types.Errorf(types.ErrTransientNetwork, "%s %s: unexpected HTTP %d", method, endpoint, statusCode)
	}
}

func bodySnippet(body []byte) []byte {
	const limit = 256
	if len(body) > limit {
		return body[:limit]
	}
	return body
}

// IsNetworkError reports whether err looks like a connectivity problem rather
// than a malformed request. The probe sensor shares this check.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT:
			return true
		}
	}

	return false
}
