package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher delivers the terminal JobView to the submitter's callback
// URL. Exactly one POST is made per job; the outcome is recorded on the
// job record and never retried.
type Dispatcher struct {
	reg     *Registry
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given per-delivery timeout.
// timeout <= 0 falls back to 30 seconds.
func NewDispatcher(reg *Registry, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		reg:     reg,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log.With().Str("component", "callback").Logger(),
	}
}

// Deliver POSTs the job's terminal view to its callback URL and records
// the outcome. Delivery failure does not change the job's status.
func (d *Dispatcher) Deliver(ctx context.Context, id string) {
	url, err := d.reg.CallbackURL(id)
	if err != nil {
		d.log.Error().Err(err).Str("job_id", id).Msg("callback lookup failed")
		return
	}
	view, err := d.reg.Get(id)
	if err != nil {
		d.log.Error().Err(err).Str("job_id", id).Msg("callback lookup failed")
		return
	}

	if err := d.post(ctx, url, view); err != nil {
		msg := err.Error()
		d.log.Warn().Str("job_id", id).Str("url", url).Err(err).Msg("callback delivery failed")
		if rerr := d.reg.RecordCallback(id, false, nil, &msg); rerr != nil {
			d.log.Error().Err(rerr).Str("job_id", id).Msg("record callback outcome")
		}
		return
	}

	at := nowMS()
	d.log.Info().Str("job_id", id).Str("url", url).Msg("callback delivered")
	if rerr := d.reg.RecordCallback(id, true, &at, nil); rerr != nil {
		d.log.Error().Err(rerr).Str("job_id", id).Msg("record callback outcome")
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback endpoint returned %d", resp.StatusCode)
	}
	return nil
}
