// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package infer

import (
	"context"
	"fmt"

	"github.com/roost-cluster/roost/lib/tensor"
)

// IdentityEngine maps each input tensor to the output of the same
// position, unchanged. It exercises the full request, framing, and
// adapter pipeline without an accelerator, which makes it the engine
// for data-plane benchmarking and for bring-up on workers whose
// accelerator is not provisioned yet.
type IdentityEngine struct {
	inputNames  []string
	outputNames []string
}

// NewIdentityEngine pairs input names with output names positionally.
// With no output names, outputs reuse the input names.
func NewIdentityEngine(inputNames, outputNames []string) *IdentityEngine {
	if len(outputNames) == 0 {
		outputNames = inputNames
	}
	return &IdentityEngine{inputNames: inputNames, outputNames: outputNames}
}

// InferTensors copies each named input to the positionally paired
// output name.
func (e *IdentityEngine) InferTensors(_ context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	if len(e.inputNames) != len(e.outputNames) {
		return nil, fmt.Errorf("identity engine has %d inputs but %d outputs", len(e.inputNames), len(e.outputNames))
	}
	outputs := make(map[string]tensor.Tensor, len(e.outputNames))
	for i, name := range e.inputNames {
		outputs[e.outputNames[i]] = inputs[name]
	}
	return outputs, nil
}

func (e *IdentityEngine) InputNames() []string  { return e.inputNames }
func (e *IdentityEngine) OutputNames() []string { return e.outputNames }

// Close is a no-op; the identity engine holds no resources.
func (e *IdentityEngine) Close() error { return nil }
