package seestar

import (
	"errors"
	"net"
	"time"

	"github.com/unklstewy/seestar-bridge/pkg/protocol"
	"go.uber.org/zap"
)

// run is the session's background event loop. It owns the read side of the
// socket: it drains frames into the operation tracker, watches for silence,
// and re-dials after failures with exponential backoff. The loop exits when
// the stop channel closes or after MaxReconnectFailures consecutive
// failures.
func (c *Client) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	decoder := protocol.NewDecoder(c.logger)
	failures := 0
	delay := c.cfg.ReconnectDelay
	lastHeartbeatCheck := time.Now()

	c.logger.Debug("Event loop started")
	for {
		select {
		case <-stopCh:
			c.logger.Debug("Event loop stopping")
			return
		default:
		}

		if !c.IsConnected() {
			if c.reconnect() {
				failures = 0
				delay = c.cfg.ReconnectDelay
				lastHeartbeatCheck = time.Now()
				// The new stream starts at a record boundary; any
				// buffered partial frame belongs to the old one.
				decoder.Reset()
				continue
			}

			failures++
			if failures >= c.cfg.MaxReconnectFailures {
				c.logger.Error("Giving up on reconnection",
					zap.Int("failures", failures))
				return
			}
			if !sleepInterruptible(delay, stopCh) {
				return
			}
			delay = time.Duration(float64(delay) * c.cfg.BackoffFactor)
			if delay > c.cfg.MaxReconnectDelay {
				delay = c.cfg.MaxReconnectDelay
			}
			continue
		}

		if time.Since(lastHeartbeatCheck) >= c.cfg.HeartbeatInterval {
			lastHeartbeatCheck = time.Now()
			if c.heartbeatAge() > c.cfg.StaleAfter {
				c.logger.Warn("No traffic from telescope, probing",
					zap.Duration("silence", c.heartbeatAge()))
				if err := c.send("test_connection", nil); err != nil {
					// send already flipped the session to disconnected;
					// the next iteration starts recovery.
					continue
				}
			}
		}

		data, err := c.receive()
		if len(data) > 0 {
			failures = 0
			c.touchHeartbeat()
			for _, frame := range decoder.Feed(data) {
				c.ops.handleFrame(frame)
			}
		}
		if err != nil {
			if isTimeout(err) {
				// Quiet socket, nothing to read this round.
				continue
			}
			select {
			case <-stopCh:
				return
			default:
			}

			c.logger.Warn("Receive failed", zap.Error(err))
			c.markDisconnected()
			failures++
			if failures >= c.cfg.MaxReconnectFailures {
				c.logger.Error("Giving up after repeated receive failures",
					zap.Int("failures", failures))
				return
			}
		}
	}
}

// sleepInterruptible waits for d or until stop closes; reports false when
// interrupted so the caller can exit promptly.
func sleepInterruptible(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
