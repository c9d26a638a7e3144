package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-telemetry/internal/observability"
)

// Config selects and tunes the link.
type Config struct {
	// Port is a device path, COM name, host:port, tcp://host:port or AUTO.
	Port string
	// BridgeAddr is appended to the AUTO candidate list when set.
	BridgeAddr        string
	Baud              int
	ReadTimeout       time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
}

// Option customizes a Reader.
type Option func(*Reader)

// WithLister replaces the platform device lister used in AUTO mode.
func WithLister(l CandidateLister) Option {
	return func(r *Reader) { r.lister = l }
}

// WithDialers replaces the serial and TCP dialers.
func WithDialers(serialDialer, tcpDialer Dialer) Option {
	return func(r *Reader) {
		r.serial = serialDialer
		r.tcp = tcpDialer
	}
}

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Reader) { r.clock = c }
}

// Reader yields lines from whichever target it manages to open, reopening
// with bounded exponential backoff whenever the link is unavailable or
// drops mid-stream. It is used by a single goroutine; Close may be called
// from another.
type Reader struct {
	cfg     Config
	fixed   *Target
	lister  CandidateLister
	serial  Dialer
	tcp     Dialer
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	backoff *backoff
	lines   *lineBuffer
	chunk   []byte

	mu      sync.Mutex
	conn    Conn
	current Target
}

// NewReader validates cfg and builds a Reader. No I/O happens until the
// first ReadLine.
func NewReader(cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) (*Reader, error) {
	target, auto, err := ParseTarget(cfg.Port)
	if err != nil {
		return nil, err
	}
	if cfg.BridgeAddr != "" {
		if _, _, err := ParseTarget(cfg.BridgeAddr); err != nil {
			return nil, fmt.Errorf("bridge address: %w", err)
		}
	}

	r := &Reader{
		cfg:     cfg,
		lister:  SystemLister{},
		serial:  SerialDialer{Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout},
		tcp:     TCPDialer{DialTimeout: 5 * time.Second, ReadTimeout: cfg.ReadTimeout},
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
		backoff: newBackoff(cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffMultiplier),
		lines:   newLineBuffer(MaxLineBytes),
		chunk:   make([]byte, 512),
	}
	if !auto {
		r.fixed = &target
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ReadLine returns the next complete line. It returns "" with a nil error
// when the link is idle for one read timeout; callers sleep and retry. While
// no target can be opened it keeps retrying with backoff and only returns
// once ctx is done.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if line, ok := r.lines.next(); ok {
			r.countDiscarded()
			return line, nil
		}

		conn := r.activeConn()
		if conn == nil {
			if err := r.open(ctx); err != nil {
				return "", err
			}
			continue
		}

		n, err := conn.Read(r.chunk)
		if err != nil {
			r.drop(err)
			continue
		}
		if n == 0 {
			r.countDiscarded()
			return "", nil
		}
		r.lines.write(r.chunk[:n])
	}
}

func (r *Reader) countDiscarded() {
	if n := r.lines.takeDiscarded(); n > 0 {
		r.logger.Warn("discarded over-long line", "count", n, "max_bytes", MaxLineBytes)
		r.metrics.LinesDiscarded.Add(float64(n))
	}
}

func (r *Reader) activeConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// open tries every candidate in order, backing off between full rounds.
func (r *Reader) open(ctx context.Context) error {
	for {
		targets, err := r.candidates()
		if err == nil {
			for _, t := range targets {
				conn, derr := r.dialerFor(t).Dial(ctx, t)
				if derr != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					r.logger.Debug("transport candidate failed", "target", t.String(), "error", derr)
					err = errors.Join(err, derr)
					continue
				}
				r.attach(conn, t)
				return nil
			}
		}

		r.metrics.TransportOpenFailures.Inc()
		delay := r.backoff.next()
		r.logger.Warn("transport unavailable, retrying",
			"port", r.cfg.Port,
			"error", err,
			"retry_in", delay,
		)
		if !sleepWithContext(ctx, r.clock, delay) {
			return ctx.Err()
		}
	}
}

func (r *Reader) candidates() ([]Target, error) {
	if r.fixed != nil {
		return []Target{*r.fixed}, nil
	}

	names, err := r.lister.Candidates()
	if err != nil {
		return nil, fmt.Errorf("list serial devices: %w", err)
	}
	targets := make([]Target, 0, len(names)+1)
	for _, n := range names {
		targets = append(targets, Target{Kind: KindSerial, Address: n})
	}
	if r.cfg.BridgeAddr != "" {
		t, _, _ := ParseTarget(r.cfg.BridgeAddr)
		if t.Kind != KindTCP {
			t = Target{Kind: KindTCP, Address: r.cfg.BridgeAddr}
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, ErrNoCandidates
	}
	return targets, nil
}

func (r *Reader) dialerFor(t Target) Dialer {
	if t.Kind == KindTCP {
		return r.tcp
	}
	return r.serial
}

func (r *Reader) attach(conn Conn, t Target) {
	r.mu.Lock()
	r.conn = conn
	r.current = t
	r.mu.Unlock()

	r.backoff.reset()
	r.lines.reset()
	r.metrics.TransportConnected.Set(1)
	r.logger.Info("transport connected", "target", t.String(), "kind", t.Kind.String())
}

// drop closes a failed link. The partial line is discarded.
func (r *Reader) drop(cause error) {
	r.mu.Lock()
	conn, t := r.conn, r.current
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	r.lines.reset()
	r.metrics.TransportConnected.Set(0)
	r.metrics.TransportDisconnects.Inc()
	r.logger.Warn("transport interrupted, reopening", "target", t.String(), "error", cause)
}

// Current returns the open target, if any.
func (r *Reader) Current() (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.conn != nil
}

// Close closes the open link. The Reader may be reused; the next ReadLine
// reopens.
func (r *Reader) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	r.metrics.TransportConnected.Set(0)
	return conn.Close()
}
