// Package catalog resolves which models are administratively enabled and
// tracks their local readiness. Admission consults the enabled-and-ready
// view; the dashboard consumes the full status list.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whisperd/internal/events"
	"whisperd/pkg/types"
)

// Fetcher makes a model locally available (download / warm the cache).
// Retry policy lives here, not in the fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, model string) error
}

// Config tunes catalog loading.
type Config struct {
	Attempts     int
	FetchTimeout time.Duration
}

type modelState struct {
	row      ModelRow
	status   types.ModelReadiness
	progress float64
	err      string
}

// Catalog is the authoritative readiness view over the enabled model set.
type Catalog struct {
	store   Store
	fetcher Fetcher
	cfg     Config
	log     zerolog.Logger
	pub     events.Publisher

	mu        sync.RWMutex
	models    map[string]*modelState
	order     []string
	health    types.HealthStatus
	healthErr string
}

func New(store Store, fetcher Fetcher, cfg Config, log zerolog.Logger) *Catalog {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Catalog{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		log:     log,
		pub:     events.NoopPublisher{},
		models:  make(map[string]*modelState),
		health:  types.HealthStarting,
	}
}

// SetPublisher installs the event sink. Must be called before Load.
func (c *Catalog) SetPublisher(p events.Publisher) {
	if p != nil {
		c.pub = p
	}
}

// Load fetches the enabled set from the store and brings every model to a
// terminal readiness state. It blocks until initialization finishes; run
// it in a goroutine. A store failure or an empty enabled set is an
// unrecoverable startup error and flips health to "error". Individual
// model failures only exclude that model from admission.
func (c *Catalog) Load(ctx context.Context) error {
	rows, err := c.store.EnabledModels(ctx)
	if err != nil {
		c.fail("model catalog unreachable: " + err.Error())
		return err
	}
	if len(rows) == 0 {
		c.fail("no enabled whisper models")
		return errNoModels
	}

	c.mu.Lock()
	c.models = make(map[string]*modelState, len(rows))
	c.order = c.order[:0]
	for _, r := range rows {
		c.models[r.Name] = &modelState{row: r, status: types.ModelPending}
		c.order = append(c.order, r.Name)
	}
	sort.Strings(c.order)
	c.mu.Unlock()

	c.log.Info().Int("count", len(rows)).Msg("enabled whisper models")

	for _, name := range c.names() {
		c.fetchModel(ctx, name)
	}

	c.mu.Lock()
	if c.health == types.HealthStarting {
		c.health = types.HealthReady
	}
	c.mu.Unlock()
	c.pub.Publish(events.Event{Name: events.HealthChanged})
	c.log.Info().Msg("model catalog ready")
	return nil
}

func (c *Catalog) fetchModel(ctx context.Context, name string) {
	c.setStatus(name, types.ModelDownloading, 0, "")
	c.log.Info().Str("model", name).Msg("fetching model")

	var lastErr error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		fctx := ctx
		var cancel context.CancelFunc
		if c.cfg.FetchTimeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		}
		err := c.fetcher.Fetch(fctx, name)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			c.setStatus(name, types.ModelReady, 100, "")
			c.log.Info().Str("model", name).Msg("model ready")
			return
		}
		lastErr = err
		c.log.Warn().Str("model", name).Int("attempt", attempt+1).
			Int("attempts", c.cfg.Attempts).Err(err).Msg("model fetch failed")
		if attempt+1 < c.cfg.Attempts {
			wait := time.Duration(1<<uint(attempt)) * time.Second
			if wait > 30*time.Second {
				wait = 30 * time.Second
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				c.setStatus(name, types.ModelFailed, 0, ctx.Err().Error())
				return
			}
		}
	}
	c.setStatus(name, types.ModelFailed, 0, lastErr.Error())
	c.log.Error().Str("model", name).Err(lastErr).Msg("model fetch failed permanently")
}

func (c *Catalog) setStatus(name string, st types.ModelReadiness, progress float64, errMsg string) {
	c.mu.Lock()
	if m, ok := c.models[name]; ok {
		m.status = st
		m.progress = progress
		m.err = errMsg
	}
	c.mu.Unlock()
	c.pub.Publish(events.Event{Name: events.ModelReadiness, ID: name})
}

func (c *Catalog) fail(msg string) {
	c.mu.Lock()
	c.health = types.HealthError
	c.healthErr = msg
	c.mu.Unlock()
	c.pub.Publish(events.Event{Name: events.HealthChanged})
	c.log.Error().Str("reason", msg).Msg("catalog initialization failed")
}

// Fail marks the service unhealthy for startup failures detected outside
// the catalog itself (no devices, engine misconfiguration).
func (c *Catalog) Fail(msg string) { c.fail(msg) }

func (c *Catalog) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ReadyModel reports whether name is enabled and locally ready. This is
// the admission check.
func (c *Catalog) ReadyModel(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return ok && m.status == types.ModelReady
}

// Models returns dashboard statuses in stable name order.
func (c *Catalog) Models() []types.ModelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ModelStatus, 0, len(c.order))
	for _, name := range c.order {
		m := c.models[name]
		out = append(out, types.ModelStatus{
			ID:       m.row.ID,
			Name:     m.row.Name,
			Enabled:  m.row.Enabled,
			Status:   m.status,
			Progress: m.progress,
		})
	}
	return out
}

// Health derives overall service health: starting while any enabled model
// has not reached a terminal readiness state, ready once all have, error
// only after an unrecoverable initialization failure.
func (c *Catalog) Health() (types.HealthStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.health == types.HealthError {
		return types.HealthError, c.healthErr
	}
	if len(c.models) == 0 {
		return types.HealthStarting, ""
	}
	for _, m := range c.models {
		if !m.status.Terminal() {
			return types.HealthStarting, ""
		}
	}
	return types.HealthReady, ""
}

type catalogError string

func (e catalogError) Error() string { return string(e) }

const errNoModels = catalogError("no enabled whisper models")
