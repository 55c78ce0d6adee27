package realtime

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/inflight/internal/model"
	"github.com/roach88/inflight/internal/txerr"
)

// FrameType distinguishes wire frames.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FramePush     FrameType = "push"
)

// Frame is the msgpack envelope exchanged with the server.
//
// Requests carry Method and Input; responses echo the request ID and carry
// either Result or Error; pushes carry Batch.
type Frame struct {
	Type   FrameType          `json:"type"`
	ID     uint64             `json:"id,omitempty"`
	Method Method             `json:"method,omitempty"`
	Input  msgpack.RawMessage `json:"input,omitempty"`
	Result *Result            `json:"result,omitempty"`
	Error  *FrameError        `json:"error,omitempty"`
	Batch  *model.UpdateBatch `json:"batch,omitempty"`
}

// FrameError is an RPC rejection reported by the server.
type FrameError struct {
	Code    txerr.Code `json:"code"`
	Message string     `json:"message"`
}

// Err converts the rejection into the txerr taxonomy.
func (e *FrameError) Err() error {
	return txerr.FromCode(e.Code, e.Message)
}

// NewRequest builds a request frame with input encoded as msgpack.
func NewRequest(id uint64, method Method, input any) (Frame, error) {
	raw, err := marshal(input)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s input: %w", method, err)
	}
	return Frame{Type: FrameRequest, ID: id, Method: method, Input: raw}, nil
}

// DecodeInput decodes a request frame's input into v.
func (f Frame) DecodeInput(v any) error {
	if err := unmarshal(f.Input, v); err != nil {
		return fmt.Errorf("decode %s input: %w", f.Method, err)
	}
	return nil
}

// Outcome returns the result of a response frame, or the mapped error if the
// server rejected the call.
func (f Frame) Outcome() (Result, error) {
	if f.Error != nil {
		return Result{}, f.Error.Err()
	}
	if f.Result == nil {
		return Result{}, nil
	}
	return *f.Result, nil
}

// EncodeFrame serialises a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case FrameRequest, FrameResponse, FramePush:
	default:
		return Frame{}, fmt.Errorf("decode frame: unknown type %q", f.Type)
	}
	return f, nil
}

// The wire reuses the json tags of the model types so the same field names
// appear in logs, the pending queue and on the wire.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
