// Package protocol implements the Seestar wire codec: line-delimited JSON
// records over TCP, with sequential command IDs for request correlation.
package protocol

import (
	"bytes"
	"encoding/json"
	"sync/atomic"

	"go.uber.org/zap"
)

// Delimiter terminates every frame on the wire.
const Delimiter = "\r\n"

// CommandIDBase is the value the command ID counter starts from. The first
// encoded command gets CommandIDBase+1.
const CommandIDBase = 1000

// Frame is a single decoded JSON record received from the telescope. The
// device multiplexes command acknowledgments and unsolicited event
// notifications on the same stream, so a frame may carry either shape.
type Frame struct {
	// ID echoes the command ID for acknowledgment frames; zero for events.
	ID int64 `json:"id,omitempty"`
	// Event names an unsolicited notification (e.g. "AutoGoto").
	Event string `json:"Event,omitempty"`
	// State carries the event sub-state ("working", "slewing", "complete", "fail").
	State string `json:"state,omitempty"`
	// Error carries the device-reported failure reason on a "fail" state.
	Error string `json:"error,omitempty"`
	// Result holds the acknowledgment payload, shape varies per command.
	Result json.RawMessage `json:"result,omitempty"`
	// Code is the acknowledgment status; zero means success.
	Code *int `json:"code,omitempty"`

	// Raw preserves the full record for diagnostics and error classification.
	Raw json.RawMessage `json:"-"`
}

// IsAck reports whether the frame is a command acknowledgment.
func (f *Frame) IsAck() bool {
	return f.Code != nil
}

// command is the outgoing record shape.
type command struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Encoder serializes outgoing commands and owns the session's monotonic
// command ID counter. Safe for concurrent use; IDs are never reused within a
// session, including across reconnects.
type Encoder struct {
	cmdID atomic.Int64
}

// NewEncoder creates an encoder with the counter at CommandIDBase.
func NewEncoder() *Encoder {
	e := &Encoder{}
	e.cmdID.Store(CommandIDBase)
	return e
}

// Encode builds a delimited wire record for the given method and parameters,
// allocating the next command ID. Params may be nil, in which case the field
// is omitted entirely.
func (e *Encoder) Encode(method string, params interface{}) ([]byte, int64, error) {
	id := e.cmdID.Add(1)

	data, err := json.Marshal(command{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, 0, err
	}

	return append(data, Delimiter...), id, nil
}

// LastID returns the most recently allocated command ID.
func (e *Encoder) LastID() int64 {
	return e.cmdID.Load()
}

// Decoder splits an inbound byte stream into frames. The device writes
// records separated by \r\n but TCP reads may land on any byte boundary, so
// the decoder buffers the trailing incomplete segment between calls.
type Decoder struct {
	remainder []byte
	logger    *zap.Logger
}

// NewDecoder creates a decoder. A nil logger is replaced with a no-op logger.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Feed appends a chunk of received bytes and returns all complete frames.
// A segment that fails to parse as JSON is logged and dropped; decoding
// continues with the following segments.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.remainder = append(d.remainder, chunk...)

	var frames []Frame
	for {
		idx := bytes.Index(d.remainder, []byte(Delimiter))
		if idx < 0 {
			break
		}

		segment := d.remainder[:idx]
		d.remainder = d.remainder[idx+len(Delimiter):]

		if len(segment) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(segment, &frame); err != nil {
			d.logger.Warn("Dropping malformed frame",
				zap.ByteString("segment", segment),
				zap.Error(err))
			continue
		}
		frame.Raw = append(json.RawMessage(nil), segment...)
		frames = append(frames, frame)
	}

	return frames
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (d *Decoder) Pending() int {
	return len(d.remainder)
}

// Reset discards any buffered partial frame. Called after a reconnect since
// the new stream starts at a record boundary.
func (d *Decoder) Reset() {
	d.remainder = nil
}
