package remote

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Pool keeps persistent connections to one host:port. A borrowed connection
// belongs to the borrower until it is returned or discarded.
type Pool struct {
	addr    string
	cfg     *Config
	tlsConf *tls.Config
	log     *zap.Logger

	mu     sync.Mutex
	idle   []*conn
	closed bool
}

func NewPool(addr string, cfg Config, logger *zap.Logger) (*Pool, error) {
	tc, err := cfg.TLS.clientTLS()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{addr: addr, cfg: &cfg, tlsConf: tc, log: logger.With(zap.String("addr", addr))}, nil
}

func (p *Pool) Addr() string { return p.addr }

// get borrows an idle connection or dials a new one, retrying with
// exponential backoff.
func (p *Pool) get(ctx context.Context) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	eb := backoff.NewExponentialBackOff()
	if p.cfg.DialBackoff > 0 {
		eb.InitialInterval = p.cfg.DialBackoff
	}
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(max(p.cfg.DialRetries, 0)))

	var c *conn
	err := backoff.RetryNotify(func() error {
		var err error
		c, err = dial(ctx, p.addr, p.cfg, p.tlsConf)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		p.log.Warn("dial failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, &TransportError{Op: "dial", Addr: p.addr, Err: err}
	}
	return c, nil
}

// put returns a healthy connection. Broken ones and the overflow are closed.
func (p *Pool) put(c *conn) {
	if c.broken {
		p.discard(c)
		return
	}
	p.mu.Lock()
	if p.closed || len(p.idle) >= p.cfg.MaxIdle {
		p.mu.Unlock()
		_ = c.close()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

func (p *Pool) discard(c *conn) {
	p.log.Debug("discarding connection")
	_ = c.close()
}

// Idle reports the number of pooled connections.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close says goodbye on every idle connection and closes it. Borrowed
// connections are closed when they come back.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs *multierror.Error
	for _, c := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.call(ctx, request(CmdClose), nil); err != nil {
			p.log.Debug("close handshake failed", zap.Error(err))
		}
		cancel()
		if err := c.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
