package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// armDetector (re)starts the detector under a new generation. Starting runs
// in the background with bounded retries and reports back via armedMsg.
func (c *Coordinator) armDetector(reason string) {
	c.stopDetector()

	ctx, cancel := context.WithCancel(c.sess.ctx)
	c.armCtx = ctx
	c.armCancel = cancel
	c.armed = true
	c.startDetector(reason)
}

// retargetDetector moves a running detector to a new generation without
// reopening capture. Events still queued for the old generation are dropped.
// It falls back to a full restart unless the last start was confirmed.
func (c *Coordinator) retargetDetector(reason string) {
	if !c.armed || !c.armLive {
		c.armDetector(reason)
		return
	}
	c.detGen++
	c.armLive = false
	c.startDetector(reason)
}

func (c *Coordinator) startDetector(reason string) {
	gen := c.detGen
	ctx := c.armCtx

	handle := func(ev DetectorEvent) {
		c.box.post(detectorMsg{gen: gen, ev: ev})
	}
	logger := c.sess.logger.With().Uint64("gen", gen).Logger()
	logger.Debug().Str("reason", reason).Msg("arming detector")

	c.armWG.Add(1)
	go func() {
		defer c.armWG.Done()
		attempts := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempts++
			err := c.deps.Detector.Start(ctx, handle)
			if errors.Is(err, ErrCaptureUnavailable) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(c.restartBackOff()),
			backoff.WithMaxTries(uint(c.cfg.RestartAttempts)),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn().Err(err).Dur("retry_in", next).Msg("detector start failed")
			}),
		)
		if err != nil && ctx.Err() == nil && !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: detector did not start after %d attempts: %w", ErrDetectorTransient, attempts, err)
		}
		c.box.post(armedMsg{gen: gen, err: err})
	}()
}

func (c *Coordinator) restartBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RestartInitialInterval
	b.MaxInterval = c.cfg.RestartMaxInterval
	return b
}

// stopDetector disarms the detector synchronously. Events and arm results
// from the previous generation are ignored afterwards.
func (c *Coordinator) stopDetector() {
	c.detGen++
	if !c.armed {
		return
	}
	c.armed = false
	c.armLive = false

	if c.armCancel != nil {
		c.armCancel()
		c.armCancel = nil
	}
	c.armCtx = nil
	// a start that is mid-flight must finish before Stop can take effect
	c.armWG.Wait()

	if err := c.deps.Detector.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("detector stop")
	}
}

func (c *Coordinator) handleArmed(m armedMsg) {
	if c.sess == nil || m.gen != c.detGen {
		c.logger.Debug().Uint64("gen", m.gen).Msg("stale detector arm result ignored")
		return
	}

	if m.err != nil {
		if errors.Is(m.err, context.Canceled) {
			return
		}
		c.fail(m.err)
		return
	}

	c.armLive = true
	c.sess.logger.Debug().Uint64("gen", m.gen).Msg("detector armed")
	if c.pendingStart != nil {
		c.pendingStart <- startResult{id: c.sess.id}
		c.pendingStart = nil
	}
}
