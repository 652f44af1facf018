package driver

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrRunning is returned by Run when the driver is already running.
var ErrRunning = errors.New("driver is already running")

// idlePoll is how often a user outside the current ramp target re-checks it.
const idlePoll = 50 * time.Millisecond

// Option customizes a Driver.
type Option func(*Driver)

// WithSink streams every outcome to s in addition to the run's Result.
func WithSink(s Sink) Option {
	return func(d *Driver) { d.sinks = append(d.sinks, s) }
}

// WithLogger sets the logger used for run lifecycle messages.
func WithLogger(l *log.Entry) Option {
	return func(d *Driver) { d.log = l }
}

// WithHTTPClient replaces the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Driver) { d.client = c }
}

// Driver executes one workload against one target.
type Driver struct {
	cfg       WorkloadConfig
	target    Target
	client    *http.Client
	templates *templates
	checks    []Check
	sinks     []Sink
	limiter   *rate.Limiter
	log       *log.Entry

	running  atomic.Bool
	active   int64
	inflight int64
}

// New validates cfg and target and builds a driver. Every configuration
// problem is reported here, before any traffic is sent.
func New(cfg WorkloadConfig, target Target, opts ...Option) (*Driver, error) {
	if err := errors.Join(cfg.Validate(), target.Validate(cfg.WriteProbability > 0)); err != nil {
		return nil, err
	}

	tpl, err := compileTemplates(NewTemplateEngine(), target, cfg.Payload)
	if err != nil {
		return nil, err
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	d := &Driver{
		cfg:       cfg,
		target:    target,
		client:    &http.Client{Transport: t},
		templates: tpl,
		checks:    cfg.Checks,
		log:       log.NewEntry(log.StandardLogger()),
	}
	if d.checks == nil {
		d.checks = DefaultChecks(cfg.ResponseBudget)
	}
	if cfg.MaxIterationRate > 0 {
		burst := int(cfg.MaxIterationRate)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.MaxIterationRate), burst)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the workload the driver was built with.
func (d *Driver) Config() WorkloadConfig { return d.cfg }

// Target returns the target the driver was built with.
func (d *Driver) Target() Target { return d.target }

// ActiveVUs is the number of users currently inside an iteration.
func (d *Driver) ActiveVUs() int64 { return atomic.LoadInt64(&d.active) }

// Inflight is the number of requests currently waiting on the target.
func (d *Driver) Inflight() int64 { return atomic.LoadInt64(&d.inflight) }

// Run executes the schedule and blocks until every user has stopped. Cancelling
// ctx stops new iterations and requests; requests already sent run to their own
// timeout. A zero-length schedule returns an empty Result.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer d.running.Store(false)

	total := d.cfg.TotalDuration()
	vus := d.cfg.MaxVUs()
	res := &Result{Started: time.Now()}
	if total <= 0 || vus == 0 {
		d.log.Info("empty schedule, nothing to run")
		return res, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	c := &collector{sinks: d.sinks}
	seed := d.cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	d.log.WithFields(log.Fields{
		"vus":      vus,
		"duration": total,
		"stages":   len(d.cfg.Stages),
		"base_url": d.target.BaseURL,
	}).Info("starting load")

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func(vu int) {
			defer wg.Done()
			u := &user{
				id:  vu,
				rng: rand.New(rand.NewPCG(seed, uint64(vu))),
				out: c,
			}
			d.runUser(runCtx, start, u)
		}(i)
	}
	wg.Wait()

	res.Elapsed = time.Since(start)
	res.Outcomes = c.snapshot()

	d.log.WithFields(log.Fields{
		"requests": len(res.Outcomes),
		"elapsed":  res.Elapsed.Round(time.Millisecond),
	}).Info("load finished")
	return res, nil
}

type user struct {
	id   int
	iter int
	rng  *rand.Rand
	out  *collector
}

func (d *Driver) runUser(ctx context.Context, start time.Time, u *user) {
	for ctx.Err() == nil {
		if u.id >= d.cfg.TargetAt(time.Since(start)) {
			if !sleep(ctx, idlePoll) {
				return
			}
			continue
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
		}

		atomic.AddInt64(&d.active, 1)
		d.iterate(ctx, u)
		atomic.AddInt64(&d.active, -1)
		u.iter++
	}
}

// iterate runs one pass of the request mix. Writes are the probabilistic branch
// and a post is only created once its user was; reads always happen.
func (d *Driver) iterate(ctx context.Context, u *user) {
	if d.cfg.WriteProbability > 0 && u.rng.Float64() < d.cfg.WriteProbability {
		if !d.writePath(ctx, u) {
			return
		}
	}

	for i := 0; i < d.cfg.ReadsPerIteration; i++ {
		if ctx.Err() != nil {
			return
		}
		id := d.cfg.IDPool.format(d.cfg.IDPool.pick(u.rng))
		d.do(ctx, u, EndpointFeed, http.MethodGet, id, nil)
		if !d.think(ctx, u, d.cfg.Think.ReadFactor) {
			return
		}
	}
}

func (d *Driver) writePath(ctx context.Context, u *user) bool {
	data := d.templateData(u, "")
	body, err := d.userPayload(data)
	var created RequestOutcome
	if err != nil {
		created = d.failed(u, EndpointCreateUser, http.MethodPost, "", err)
	} else {
		created = d.do(ctx, u, EndpointCreateUser, http.MethodPost, "", body)
	}
	if !d.think(ctx, u, d.cfg.Think.WriteFactor) {
		return false
	}
	if !created.Success {
		return true
	}

	owner := d.cfg.IDPool.pick(u.rng)
	if body, err = d.postPayload(data, owner); err != nil {
		d.failed(u, EndpointCreatePost, http.MethodPost, "", err)
	} else {
		d.do(ctx, u, EndpointCreatePost, http.MethodPost, "", body)
	}
	return d.think(ctx, u, d.cfg.Think.WriteFactor)
}

func (d *Driver) think(ctx context.Context, u *user, factor float64) bool {
	t := d.cfg.Think
	pause := t.Min
	if spread := t.Max - t.Min; spread > 0 {
		pause += time.Duration(u.rng.Int64N(int64(spread) + 1))
	}
	return sleep(ctx, time.Duration(float64(pause)*factor))
}

// sleep waits for d unless ctx ends first. It reports whether the caller may go on.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// collector is the append-only outcome stream of one run.
type collector struct {
	mu       sync.Mutex
	outcomes []RequestOutcome
	sinks    []Sink
}

func (c *collector) Record(o RequestOutcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()

	for _, s := range c.sinks {
		s.Record(o)
	}
}

func (c *collector) snapshot() []RequestOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RequestOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
