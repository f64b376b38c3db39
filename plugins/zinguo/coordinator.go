package zinguo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const maxPollAttempts = 2

// Coordinator keeps a live view of one device: it polls on an interval,
// renews the session when the cloud rejects the token, and publishes the
// outcome of every cycle to subscribers.
type Coordinator struct {
	cfg      Config
	client   *Client
	session  *Session
	logger   *slog.Logger
	observer CommandObserver

	httpClient *http.Client
	store      TokenStore

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	inFlight    bool
	waiters     []chan PollOutcome
	closed      bool
	started     bool
	outcome     PollOutcome
	lastGood    *Snapshot
	lastSuccess time.Time
	subscribers map[int]func(PollOutcome)
	nextSub     int

	ops       sync.WaitGroup
	stop      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithHTTPClient sets the shared transport. It is closed by Close.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

func WithTokenStore(store TokenStore) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithCommandObserver registers a hook invoked after every Send.
func WithCommandObserver(observer CommandObserver) Option {
	return func(c *Coordinator) { c.observer = observer }
}

// New builds a coordinator. Nothing runs until Start or Refresh.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		subscribers: make(map[int]func(PollOutcome)),
		stop:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "zinguo", "mac", cfg.MAC)
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	c.client = NewClient(cfg, c.httpClient)
	c.session = NewSession(c.client, cfg.Account, cfg.Password, cfg.RequestTimeout, c.store, c.logger)
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *Coordinator) Config() Config {
	return c.cfg
}

// Session exposes the auth store shared by polling and commands.
func (c *Coordinator) Session() *Session {
	return c.session
}

// Start seeds the session, runs a first cycle and then polls every
// PollInterval until ctx ends or Close is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.session.Seed(ctx)
	c.logger.Info("poll scheduler started", "interval", c.cfg.PollInterval.String())

	go func() {
		defer close(c.loopDone)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		c.RequestRefresh()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if started, busy := c.beginCycle(); started {
					go c.runCycle()
				} else if busy {
					pollSkipped.Inc()
					c.logger.Debug("poll tick skipped; cycle still running")
				}
			}
		}
	}()
	return nil
}

// RequestRefresh starts a cycle in the background unless one is already
// running, in which case that cycle satisfies the request.
func (c *Coordinator) RequestRefresh() {
	if started, _ := c.beginCycle(); started {
		go c.runCycle()
	}
}

// Refresh runs a cycle, or joins the running one, and returns its outcome.
func (c *Coordinator) Refresh(ctx context.Context) PollOutcome {
	waiter := make(chan PollOutcome, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return PollOutcome{Err: ErrClosed, CompletedAt: time.Now()}
	}
	c.waiters = append(c.waiters, waiter)
	start := !c.inFlight
	if start {
		c.inFlight = true
		c.ops.Add(1)
	}
	c.mu.Unlock()

	if start {
		go c.runCycle()
	}

	select {
	case outcome := <-waiter:
		return outcome
	case <-ctx.Done():
		return PollOutcome{Err: ctx.Err(), CompletedAt: time.Now()}
	}
}

// Outcome returns the most recently completed cycle.
func (c *Coordinator) Outcome() PollOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneOutcome(c.outcome)
}

// Snapshot returns the last good snapshot. It survives failed cycles.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastGood == nil {
		return Snapshot{}, false
	}
	return c.lastGood.Clone(), true
}

// LastUpdateSuccess reports whether the latest completed cycle succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.OK()
}

func (c *Coordinator) LastSuccessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

// Subscribe registers fn for every published outcome. Callbacks run on the
// polling goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(PollOutcome)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// Close stops the ticker, rejects new work, waits for running cycles and
// commands, and releases idle transport connections. If ctx expires first,
// outstanding work is cancelled and ctx.Err is returned.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		c.mu.Unlock()

		close(c.stop)
		if started {
			<-c.loopDone
		}

		done := make(chan struct{})
		go func() {
			c.ops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.closeErr = ctx.Err()
			c.cancel()
			<-done
		}
		c.cancel()

		c.client.CloseIdleConnections()
		c.logger.Info("coordinator closed")
	})
	return c.closeErr
}

// beginCycle claims the single poll slot. busy reports that a cycle is
// already running.
func (c *Coordinator) beginCycle() (started, busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	if c.inFlight {
		return false, true
	}
	c.inFlight = true
	c.ops.Add(1)
	return true, false
}

func (c *Coordinator) beginOp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ops.Add(1)
	return true
}

func (c *Coordinator) runCycle() {
	defer c.ops.Done()

	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	outcome := c.poll(ctx)
	pollDuration.Observe(time.Since(start).Seconds())
	c.publish(outcome)
}

func (c *Coordinator) poll(ctx context.Context) PollOutcome {
	token, authErr := c.session.EnsureAuthenticated(ctx)
	for attempt := 1; ; attempt++ {
		if authErr != nil {
			return c.failed(authErr)
		}

		devices, err := c.client.Devices(ctx, token)
		if errors.Is(err, errUnauthorized) {
			if attempt < maxPollAttempts {
				c.logger.Warn("token rejected while fetching devices; logging in again")
				token, authErr = c.session.Renew(ctx, token)
				continue
			}
			c.session.Invalidate()
			return c.failed(&TransientError{Op: "devices", Status: http.StatusUnauthorized, Err: err})
		}
		if err != nil {
			return c.failed(err)
		}

		raw, err := FindDevice(devices, c.cfg.MAC)
		if err != nil {
			return c.failed(err)
		}
		c.logger.Debug("fetched device", "name", raw.Name, "online", raw.Online != nil && *raw.Online)

		snap := Normalize(raw, c.cfg.Codes)
		return PollOutcome{Snapshot: &snap, CompletedAt: time.Now()}
	}
}

func (c *Coordinator) failed(err error) PollOutcome {
	kind := Kind(err)
	if IsTerminal(err) {
		c.session.Invalidate()
		c.logger.Error("poll failed; credentials rejected", "kind", kind.String(), "error", err)
	} else {
		c.logger.Warn("poll failed", "kind", kind.String(), "error", err)
	}
	return PollOutcome{Err: err, CompletedAt: time.Now()}
}

func (c *Coordinator) publish(outcome PollOutcome) {
	c.mu.Lock()
	c.outcome = outcome
	if outcome.OK() {
		c.lastGood = outcome.Snapshot
		c.lastSuccess = outcome.CompletedAt
	}
	c.inFlight = false
	waiters := c.waiters
	c.waiters = nil
	subscribers := make([]func(PollOutcome), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.mu.Unlock()

	recordPoll(outcome)

	for _, fn := range subscribers {
		fn(cloneOutcome(outcome))
	}
	for _, waiter := range waiters {
		waiter <- cloneOutcome(outcome)
	}
}

func cloneOutcome(outcome PollOutcome) PollOutcome {
	if outcome.Snapshot != nil {
		snap := outcome.Snapshot.Clone()
		outcome.Snapshot = &snap
	}
	return outcome
}
