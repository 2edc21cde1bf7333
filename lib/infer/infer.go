// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package infer runs models on worker nodes. An Engine executes
// tensors; an Adapter converts raw items (images) to tensor feeds and
// model outputs to results. A Session ties the two together, validates
// input signatures, and dispatches the three request modes: tensor,
// raw, and dummy.
package infer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roost-cluster/roost/lib/tensor"
)

// Request modes. Tensor mode carries a ready tensor feed; raw mode
// carries items for the adapter to preprocess; dummy mode generates a
// synthetic feed for compute-only benchmarking.
const (
	ModeTensor = "tensor"
	ModeRaw    = "raw"
	ModeDummy  = "dummy"
)

// RawItem is one adapter input in raw mode. Exactly one of Data or
// Path is set.
type RawItem struct {
	// Type tells the adapter how to interpret the item, e.g.
	// "image_bytes" or "image_path".
	Type string `cbor:"type" json:"type"`

	// Data is the inline payload for image_bytes items.
	Data []byte `cbor:"data,omitempty" json:"data,omitempty"`

	// Path is a worker-local file path for image_path items.
	Path string `cbor:"path,omitempty" json:"path,omitempty"`

	// MIME hints the payload format when Data is set.
	MIME string `cbor:"mime,omitempty" json:"mime,omitempty"`
}

// Request is one inference call, decoded from a data-plane frame.
type Request struct {
	Mode string `cbor:"mode" json:"mode"`

	// Inputs is the tensor feed for tensor mode, keyed by model input
	// name.
	Inputs map[string]tensor.Tensor `cbor:"inputs,omitempty" json:"inputs,omitempty"`

	// Items are the adapter inputs for raw mode.
	Items []RawItem `cbor:"items,omitempty" json:"items,omitempty"`

	// Meta is passed through to the adapter.
	Meta map[string]any `cbor:"meta,omitempty" json:"meta,omitempty"`

	// DummyBatchSize and DummySeed configure dummy mode. Zero values
	// default to 10 and 42.
	DummyBatchSize int   `cbor:"dummy_batch_size,omitempty" json:"dummy_batch_size,omitempty"`
	DummySeed      int64 `cbor:"dummy_seed,omitempty" json:"dummy_seed,omitempty"`

	// RunPostprocess asks for the adapter's postprocessed result
	// instead of raw output tensors.
	RunPostprocess bool `cbor:"run_postprocess,omitempty" json:"run_postprocess,omitempty"`
}

// Response is the outcome of one inference call. Outputs carries raw
// model outputs; Result carries the adapter's postprocessed value when
// the request asked for it.
type Response struct {
	Outputs map[string]tensor.Tensor `cbor:"outputs,omitempty" json:"outputs,omitempty"`
	Result  any                      `cbor:"result,omitempty" json:"result,omitempty"`

	// Error carries a request failure back to the caller. Empty on
	// success. A failed request still gets a well-formed response
	// frame; the connection stays usable.
	Error string `cbor:"error,omitempty" json:"error,omitempty"`
}

// Engine executes a loaded model.
type Engine interface {
	// InferTensors runs the model on a complete input feed and returns
	// the output tensors keyed by output name.
	InferTensors(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error)

	// InputNames returns the model's required input names.
	InputNames() []string

	// OutputNames returns the model's output names.
	OutputNames() []string

	// Close releases the model.
	Close() error
}

// Adapter converts between raw items and tensors for one model family.
type Adapter interface {
	// Preprocess turns raw items into a tensor feed.
	Preprocess(items []RawItem, meta map[string]any) (map[string]tensor.Tensor, error)

	// Postprocess turns output tensors into a result value.
	Postprocess(outputs map[string]tensor.Tensor, meta map[string]any) (any, error)

	// DummyInputs generates a deterministic synthetic feed for
	// benchmarking.
	DummyInputs(batchSize int, seed int64) (map[string]tensor.Tensor, error)
}

// Session wraps an engine with input validation and mode dispatch. The
// input signature locks on the first successful call; later calls are
// checked against the locked dtype and rank.
//
// Session is safe for concurrent use.
type Session struct {
	engine  Engine
	adapter Adapter
	logger  *slog.Logger

	mu        sync.Mutex
	signature map[string]tensor.Signature
}

// NewSession returns a session over engine. adapter may be nil, which
// disables raw and dummy modes.
func NewSession(engine Engine, adapter Adapter, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{engine: engine, adapter: adapter, logger: logger}
}

// InferTensors validates the feed against the locked signature and
// runs the engine.
func (s *Session) InferTensors(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	if err := s.validateOrLock(inputs); err != nil {
		return nil, err
	}
	return s.engine.InferTensors(ctx, inputs)
}

// validateOrLock checks that every required input is present and
// internally consistent, then either locks the signature (first call)
// or verifies dtype and rank against the locked one. Consistency is
// re-checked on every call; a shape that claims more elements than the
// buffer holds must never reach the engine or an adapter.
func (s *Session) validateOrLock(inputs map[string]tensor.Tensor) error {
	for _, name := range s.engine.InputNames() {
		if _, ok := inputs[name]; !ok {
			return fmt.Errorf("missing input %q (required: %v)", name, s.engine.InputNames())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signature == nil {
		signature := make(map[string]tensor.Signature, len(inputs))
		for _, name := range s.engine.InputNames() {
			t := inputs[name]
			if err := t.Validate(); err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			signature[name] = tensor.SignatureOf(t)
		}
		s.signature = signature
		s.logger.Info("locked input signature", "signature", fmt.Sprint(signature))
		return nil
	}

	for name, want := range s.signature {
		t := inputs[name]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		got := tensor.SignatureOf(t)
		if got != want {
			return fmt.Errorf("input %q signature mismatch: expect (%s, rank %d), got (%s, rank %d)",
				name, want.DType, want.Rank, got.DType, got.Rank)
		}
	}
	return nil
}

// HandleRequest dispatches a request by mode and optionally runs the
// adapter's postprocessing.
func (s *Session) HandleRequest(ctx context.Context, req Request) (Response, error) {
	var (
		outputs map[string]tensor.Tensor
		meta    = req.Meta
		err     error
	)

	switch req.Mode {
	case ModeTensor:
		if len(req.Inputs) == 0 {
			return Response{}, fmt.Errorf("tensor mode requires an inputs payload")
		}
		outputs, err = s.InferTensors(ctx, req.Inputs)

	case ModeRaw:
		if len(req.Items) == 0 {
			return Response{}, fmt.Errorf("raw mode requires an items payload")
		}
		if s.adapter == nil {
			return Response{}, fmt.Errorf("raw mode requires a model adapter")
		}
		var feed map[string]tensor.Tensor
		feed, err = s.adapter.Preprocess(req.Items, meta)
		if err == nil {
			outputs, err = s.InferTensors(ctx, feed)
		}

	case ModeDummy:
		if s.adapter == nil {
			return Response{}, fmt.Errorf("dummy mode requires a model adapter")
		}
		batchSize := req.DummyBatchSize
		if batchSize <= 0 {
			batchSize = 10
		}
		seed := req.DummySeed
		if seed == 0 {
			seed = 42
		}
		var feed map[string]tensor.Tensor
		feed, err = s.adapter.DummyInputs(batchSize, seed)
		if err == nil {
			outputs, err = s.InferTensors(ctx, feed)
		}

	default:
		return Response{}, fmt.Errorf("unsupported inference mode %q", req.Mode)
	}
	if err != nil {
		return Response{}, err
	}

	if req.RunPostprocess && s.adapter != nil {
		result, err := s.adapter.Postprocess(outputs, meta)
		if err != nil {
			return Response{}, fmt.Errorf("postprocess: %w", err)
		}
		return Response{Result: result}, nil
	}
	return Response{Outputs: outputs}, nil
}

// Close releases the underlying engine.
func (s *Session) Close() error {
	return s.engine.Close()
}
