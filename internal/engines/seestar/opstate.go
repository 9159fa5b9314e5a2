package seestar

import (
	"sync"

	"github.com/unklstewy/seestar-bridge/pkg/protocol"
	"go.uber.org/zap"
)

// OperationState is the lifecycle of the current device operation as derived
// from unsolicited event frames.
type OperationState string

const (
	OpIdle     OperationState = "idle"
	OpWorking  OperationState = "working"
	OpComplete OperationState = "complete"
	OpFailed   OperationState = "failed"
)

// operationTracker holds the single current-operation slot. The Seestar runs
// one goto at a time, so one slot is enough; a new operation overwrites the
// previous outcome.
type operationTracker struct {
	mu        sync.Mutex
	state     OperationState
	errDetail string
	errRaw    []byte
	logger    *zap.Logger
}

func newOperationTracker(logger *zap.Logger) *operationTracker {
	return &operationTracker{state: OpIdle, logger: logger}
}

// begin arms the tracker for a new operation, clearing any stale outcome so
// the poller cannot observe the previous operation's terminal state.
func (t *operationTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = OpWorking
	t.errDetail = ""
	t.errRaw = nil
}

// snapshot returns the current state and, for a failed operation, the
// device-reported detail plus the raw frame it arrived in.
func (t *operationTracker) snapshot() (OperationState, string, []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.errDetail, t.errRaw
}

func (t *operationTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = OpIdle
	t.errDetail = ""
	t.errRaw = nil
}

// handleFrame dispatches one decoded frame. It must never take down the
// event loop, so anything unexpected is logged and swallowed.
func (t *operationTracker) handleFrame(f protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic while handling frame", zap.Any("panic", r))
		}
	}()

	switch {
	case f.Event != "":
		t.handleEvent(f)
	case f.IsAck():
		if *f.Code != 0 {
			t.logger.Warn("Command acknowledged with error code",
				zap.Int64("id", f.ID),
				zap.Int("code", *f.Code))
		} else {
			t.logger.Debug("Command acknowledged", zap.Int64("id", f.ID))
		}
	default:
		t.logger.Debug("Unclassified frame", zap.ByteString("raw", f.Raw))
	}
}

// handleEvent maps AutoGoto state transitions onto the tracker. Other event
// kinds are logged at debug and otherwise ignored.
func (t *operationTracker) handleEvent(f protocol.Frame) {
	if f.Event != "AutoGoto" {
		t.logger.Debug("Ignoring event",
			zap.String("event", f.Event),
			zap.String("state", f.State))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch f.State {
	case "working", "slewing":
		t.state = OpWorking
	case "complete":
		t.state = OpComplete
		t.logger.Info("Goto completed")
	case "fail":
		t.state = OpFailed
		t.errDetail = f.Error
		t.errRaw = append([]byte(nil), f.Raw...)
		t.logger.Warn("Goto failed", zap.String("error", f.Error))
	default:
		t.logger.Debug("Unknown AutoGoto state", zap.String("state", f.State))
	}
}
