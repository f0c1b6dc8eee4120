// Package ftppool maintains a small pool of warm, authenticated FTP
// sessions to the Traveltek provider host, with a per-host circuit
// breaker and fair FIFO checkout. Generalized from the teacher's
// provider.ConnectionPool (one shared *http.Transport per provider)
// to "N warm FTP sessions total, checked out one at a time."
package ftppool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
)

// ErrFTPUnavailable is returned when the circuit breaker is open.
var ErrFTPUnavailable = errors.New("ftppool: circuit open, FTP unavailable")

// Config configures the pool.
type Config struct {
	Host             string
	User             string
	Password         string
	PoolSize         int
	OpTimeout        time.Duration
	CircuitThreshold int
	CircuitCoolOff   time.Duration
	MaxLifetime      time.Duration
	KeepaliveEvery   time.Duration
}

// DefaultConfig returns production-grade pool defaults matching spec §4.1.
func DefaultConfig() Config {
	return Config{
		PoolSize:         4,
		OpTimeout:        30 * time.Second,
		CircuitThreshold: 5,
		CircuitCoolOff:   60 * time.Second,
		MaxLifetime:      30 * time.Minute,
		KeepaliveEvery:   5 * time.Minute,
	}
}

// Entry describes one directory listing result.
type Entry struct {
	Name string
	Type ftp.EntryType
	Size uint64
	Time time.Time
}

// Pool manages a fixed number of warm FTP sessions and a per-host
// circuit breaker. Sessions are created lazily on first Acquire.
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	idle     []*session
	inFlight int
	waiters  []chan *session

	breaker *circuitBreaker
}

// New creates a connection pool. No connections are opened until the
// first Acquire.
func New(cfg Config, logger zerolog.Logger) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Pool{
		cfg:     cfg,
		logger:  logger.With().Str("component", "ftppool").Logger(),
		breaker: newCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCoolOff),
	}
}

// Session is a checked-out FTP session. Callers must call Release when
// done; a session that errored during use should call ReleaseBroken
// instead so the pool discards and reconnects it.
type Session struct {
	pool *Pool
	sess *session
}

type session struct {
	conn      *ftp.ServerConn
	createdAt time.Time
	lastUsed  time.Time
}

// Acquire checks out a session, reconnecting if necessary. Fails fast
// with ErrFTPUnavailable if the circuit breaker is open.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if !p.breaker.allow() {
		return nil, ErrFTPUnavailable
	}

	p.mu.Lock()
	if len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.inFlight++
		p.mu.Unlock()

		if p.stale(s) {
			p.closeQuiet(s)
			return p.dialAndCount(ctx)
		}
		return &Session{pool: p, sess: s}, nil
	}

	if p.inFlight < p.cfg.PoolSize {
		p.inFlight++
		p.mu.Unlock()
		return p.dialAndCount(ctx)
	}

	// Pool exhausted: wait FIFO for a release.
	ch := make(chan *session, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case s := <-ch:
		if s == nil {
			return p.Acquire(ctx)
		}
		return &Session{pool: p, sess: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) dialAndCount(ctx context.Context) (*Session, error) {
	s, err := p.dial(ctx)
	if err != nil {
		p.breaker.recordFailure()
		p.mu.Lock()
		p.inFlight--
		p.wakeOneWaiter(nil)
		p.mu.Unlock()
		return nil, err
	}
	p.breaker.recordSuccess()
	return &Session{pool: p, sess: s}, nil
}

func (p *Pool) dial(ctx context.Context) (*session, error) {
	deadline := p.cfg.OpTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	conn, err := ftp.Dial(p.cfg.Host, ftp.DialWithTimeout(deadline), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftppool: dial %s: %w", p.cfg.Host, err)
	}
	if err := conn.Login(p.cfg.User, p.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftppool: login: %w", err)
	}
	now := time.Now()
	return &session{conn: conn, createdAt: now, lastUsed: now}, nil
}

func (p *Pool) stale(s *session) bool {
	if p.cfg.MaxLifetime <= 0 {
		return false
	}
	return time.Since(s.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool) closeQuiet(s *session) {
	_ = s.conn.Quit()
}

// Release returns a healthy session to the idle pool.
func (s *Session) Release() {
	s.pool.breaker.recordSuccess()
	s.sess.lastUsed = time.Now()
	p := s.pool
	p.mu.Lock()
	p.inFlight--
	if p.wakeOneWaiter(s.sess) {
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, s.sess)
	p.mu.Unlock()
}

// ReleaseBroken discards a session that errored mid-use; the pool will
// dial a fresh one on the next Acquire.
func (s *Session) ReleaseBroken() {
	s.pool.breaker.recordFailure()
	s.pool.closeQuiet(s.sess)
	p := s.pool
	p.mu.Lock()
	p.inFlight--
	p.wakeOneWaiter(nil)
	p.mu.Unlock()
}

// wakeOneWaiter must be called with p.mu held. If a waiter is queued,
// hands it the session (which may be nil, meaning "try again") and
// returns true, consuming the slot instead of returning it to idle.
func (p *Pool) wakeOneWaiter(s *session) bool {
	if len(p.waiters) == 0 {
		return false
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	if s != nil {
		p.inFlight++
	}
	ch <- s
	return true
}

// List lists a directory. Returns (nil, err) if the path doesn't
// exist or isn't readable; callers in Discovery treat this as
// skip-not-fail.
func (s *Session) List(path string) ([]Entry, error) {
	entries, err := s.sess.conn.List(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name, Type: e.Type, Size: e.Size, Time: e.Time})
	}
	return out, nil
}

// Download retrieves the full contents of path.
func (s *Session) Download(path string) ([]byte, error) {
	resp, err := s.sess.conn.Retr(path)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// Keepalive issues a cheap NOOP to detect a dead session without
// doing real work.
func (s *Session) Keepalive() error {
	return s.sess.conn.NoOp()
}

// WithSession acquires a session, runs fn, and releases it — calling
// ReleaseBroken instead of Release if fn returns an error.
func (p *Pool) WithSession(ctx context.Context, fn func(*Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.ReleaseBroken()
		return err
	}
	s.Release()
	return nil
}

// Close closes all idle sessions. Sessions checked out at the time are
// not closed by it: a later Release returns them to the idle list, and
// only ReleaseBroken closes them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.idle {
		p.closeQuiet(s)
	}
	p.idle = nil
}

// BreakerState reports the current circuit breaker state ("closed",
// "open" or "half-open"), for metrics and Slack notifications.
func (p *Pool) BreakerState() string {
	return p.breaker.state()
}
