package ticket

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"ticketpilot/pkg/logx"
)

// PoolConfig bounds the shared transport for one tracker type.
type PoolConfig struct {
	MaxConns       int           `yaml:"max_conns"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultPoolConfig returns the transport bounds used when config is silent.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       32,
		MaxIdleConns:   8,
		IdleTimeout:    90 * time.Second,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 250 * time.Millisecond,
	}
}

// Factory constructs tracker clients. It owns one pooled transport per
// tracker type, created lazily; transports are shared by every client of that
// tracker type and mutated only at creation time. The factory is constructed
// once per process and torn down with Close.
type Factory struct {
	cfg    PoolConfig
	mu     sync.Mutex
	pools  map[TrackerType]*http.Client
	logger *logx.Logger
}

// NewFactory creates a factory with the given pool bounds.
func NewFactory(cfg PoolConfig) *Factory {
	if cfg.MaxConns == 0 {
		cfg = DefaultPoolConfig()
	}
	return &Factory{
		cfg:    cfg,
		pools:  make(map[TrackerType]*http.Client),
		logger: logx.NewLogger("ticket"),
	}
}

// GetClient returns a client for the credential's tracker type, bound to the
// shared pooled transport, the credential, and optional project context.
func (f *Factory) GetClient(cred Credential, project string) (Client, error) {
	httpClient, err := f.pool(cred.Tracker)
	if err != nil {
		return nil, err
	}

	switch cred.Tracker {
	case TrackerJira:
		return newJiraClient(httpClient, cred, project), nil
	case TrackerAzure:
		return newAzureClient(httpClient, cred, project), nil
	default:
		return nil, fmt.Errorf("unknown tracker type %q", cred.Tracker)
	}
}

// pool returns the shared HTTP client for a tracker type, creating it on
// first use.
func (f *Factory) pool(tracker TrackerType) (*http.Client, error) {
	if tracker != TrackerJira && tracker != TrackerAzure {
		return nil, fmt.Errorf("unknown tracker type %q", tracker)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.pools[tracker]; ok {
		return c, nil
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   f.cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       f.cfg.MaxConns,
		MaxIdleConns:          f.cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   f.cfg.MaxIdleConns,
		IdleConnTimeout:       f.cfg.IdleTimeout,
		TLSHandshakeTimeout:   f.cfg.DialTimeout,
		ResponseHeaderTimeout: f.cfg.RequestTimeout,
	}

	client := &http.Client{
		Transport: newRetryTransport(transport, f.cfg.RetryAttempts, f.cfg.RetryBaseDelay),
		Timeout:   f.cfg.RequestTimeout,
	}

	f.pools[tracker] = client
	f.logger.Info("created %s transport pool (max_conns=%d)", tracker, f.cfg.MaxConns)
	return client, nil
}

// Close tears down all transport pools.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tracker, c := range f.pools {
		if t, ok := c.Transport.(*retryTransport); ok {
			if base, ok := t.base.(*http.Transport); ok {
				base.CloseIdleConnections()
			}
		}
		delete(f.pools, tracker)
	}
}
