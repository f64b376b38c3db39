package zinguo

import (
	"context"
	"net/http"
	"time"
)

const maxControlAttempts = 2

// CommandRecord describes one completed Send.
type CommandRecord struct {
	MAC      string
	Overlay  map[string]any
	Attempts int
	Err      error
	Started  time.Time
	Duration time.Duration
}

// CommandObserver is notified after every Send, successful or not.
type CommandObserver func(ctx context.Context, record CommandRecord)

// Send switches one relay. On success a refresh is requested so the
// read-back reflects the write; the result of that refresh is not awaited.
func (c *Coordinator) Send(ctx context.Context, req ControlRequest) error {
	if _, err := ParseSwitchKey(string(req.Key)); err != nil {
		return &CommandError{Err: err}
	}
	return c.SendRaw(ctx, req.Overlay())
}

// SendRaw writes vendor fields that have no switch key, such as comovement.
func (c *Coordinator) SendRaw(ctx context.Context, overlay map[string]any) error {
	if !c.beginOp() {
		return ErrClosed
	}
	defer c.ops.Done()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	stop := context.AfterFunc(c.baseCtx, cancel)
	defer stop()

	started := time.Now()
	attempts, err := c.dispatch(ctx, overlay)
	record := CommandRecord{
		MAC:      c.cfg.MAC,
		Overlay:  overlay,
		Attempts: attempts,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	}
	recordCommand(record)

	if err != nil {
		c.logger.Warn("control command failed", "kind", Kind(err).String(), "attempts", attempts, "error", err)
	} else {
		c.logger.Info("control command sent", "fields", overlay, "attempts", attempts)
	}
	if c.observer != nil {
		c.observer(context.WithoutCancel(ctx), record)
	}
	return err
}

func (c *Coordinator) dispatch(ctx context.Context, overlay map[string]any) (int, error) {
	token, err := c.session.EnsureAuthenticated(ctx)
	if err != nil {
		return 0, err
	}

	for attempt := 1; ; attempt++ {
		payload := c.controlPayload(overlay)
		c.logger.Debug("sending control command", "payload", payload, "attempt", attempt)

		status, body, err := c.client.Control(ctx, token, payload)
		if err != nil {
			return attempt, &CommandError{Err: err}
		}

		switch {
		case status >= 200 && status < 300:
			c.RequestRefresh()
			return attempt, nil
		case status == http.StatusUnauthorized && attempt < maxControlAttempts:
			c.logger.Warn("token rejected while sending command; logging in again")
			token, err = c.session.Renew(ctx, token)
			if err != nil {
				return attempt, err
			}
		default:
			return attempt, &CommandError{Status: status, Body: body}
		}
	}
}

// controlPayload builds a fresh payload. Overlay keys win over the defaults.
func (c *Coordinator) controlPayload(overlay map[string]any) map[string]any {
	payload := map[string]any{
		"mac":         c.cfg.MAC,
		"masterUser":  c.cfg.Account,
		"setParamter": false,
		"action":      false,
	}
	for key, value := range overlay {
		payload[key] = value
	}
	return payload
}
