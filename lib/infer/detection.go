// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package infer

import (
	"bytes"
	"fmt"
	"image"
	"math/rand"
	"os"
	"sort"

	_ "image/jpeg"
	_ "image/png"

	"github.com/roost-cluster/roost/lib/tensor"
)

// Detection is one object found by a detection model, in input-pixel
// coordinates of the letterboxed frame.
type Detection struct {
	X1      float32 `json:"x1"`
	Y1      float32 `json:"y1"`
	X2      float32 `json:"x2"`
	Y2      float32 `json:"y2"`
	Score   float32 `json:"score"`
	ClassID int     `json:"class_id"`
	Label   string  `json:"label,omitempty"`
}

// DetectionAdapter handles single-stage detection models that take a
// square RGB frame and emit rows of [cx, cy, w, h, objectness,
// class scores...]. Preprocessing letterboxes images onto a gray
// canvas; postprocessing thresholds by score and applies per-class
// non-maximum suppression.
type DetectionAdapter struct {
	cfg DetectionConfig
}

// NewDetectionAdapter returns an adapter with zero config fields
// replaced by defaults.
func NewDetectionAdapter(cfg DetectionConfig) *DetectionAdapter {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 416
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.25
	}
	if cfg.IOUThreshold <= 0 {
		cfg.IOUThreshold = 0.45
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	return &DetectionAdapter{cfg: cfg}
}

// Preprocess decodes each item's image, letterboxes it to the input
// size, and stacks the batch as NHWC float32 normalized to [0, 1].
func (a *DetectionAdapter) Preprocess(items []RawItem, _ map[string]any) (map[string]tensor.Tensor, error) {
	size := a.cfg.InputSize
	frame := size * size * 3
	values := make([]float32, len(items)*frame)

	for i, item := range items {
		img, err := decodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		letterbox(img, size, values[i*frame:(i+1)*frame])
	}

	t, err := tensor.FromFloat32([]int{len(items), size, size, 3}, values)
	if err != nil {
		return nil, err
	}
	return map[string]tensor.Tensor{a.cfg.InputName: t}, nil
}

func decodeItem(item RawItem) (image.Image, error) {
	switch item.Type {
	case "image_bytes":
		img, _, err := image.Decode(bytes.NewReader(item.Data))
		if err != nil {
			return nil, fmt.Errorf("decoding image bytes: %w", err)
		}
		return img, nil
	case "image_path":
		f, err := os.Open(item.Path)
		if err != nil {
			return nil, fmt.Errorf("opening image: %w", err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", item.Path, err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported raw item type %q for a detection model", item.Type)
	}
}

// letterbox scales img to fit a size×size canvas preserving aspect
// ratio, centers it on mid-gray padding, and writes normalized RGB
// into out (HWC order). Nearest-neighbor sampling; detection inputs
// tolerate it and it needs no dependencies.
func letterbox(img image.Image, size int, out []float32) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	scale := float64(size) / float64(width)
	if s := float64(size) / float64(height); s < scale {
		scale = s
	}
	scaledW := int(scale * float64(width))
	scaledH := int(scale * float64(height))
	offsetX := (size - scaledW) / 2
	offsetY := (size - scaledH) / 2

	const gray = 128.0 / 255.0
	for i := range out {
		out[i] = gray
	}

	for y := 0; y < scaledH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < scaledW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			base := ((offsetY+y)*size + offsetX + x) * 3
			out[base] = float32(r) / 65535.0
			out[base+1] = float32(g) / 65535.0
			out[base+2] = float32(b) / 65535.0
		}
	}
}

// Postprocess decodes detection rows from the first output tensor,
// drops rows below the score threshold, and suppresses overlapping
// boxes per class.
func (a *DetectionAdapter) Postprocess(outputs map[string]tensor.Tensor, _ map[string]any) (any, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no output tensors to postprocess")
	}

	// Single-output models; take the sole tensor regardless of name.
	var t tensor.Tensor
	for _, out := range outputs {
		t = out
		break
	}
	if len(outputs) > 1 {
		return nil, fmt.Errorf("detection postprocess expects one output tensor, got %d", len(outputs))
	}

	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("detection output must be [batch, rows, values], got shape %v", t.Shape)
	}
	rows, rowLen := t.Shape[1], t.Shape[2]
	if rowLen < 6 {
		return nil, fmt.Errorf("detection rows need at least 6 values (box, objectness, one class), got %d", rowLen)
	}
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}

	classCount := rowLen - 5
	var candidates []Detection
	for r := 0; r < rows; r++ {
		row := values[r*rowLen : (r+1)*rowLen]
		objectness := row[4]

		bestClass, bestScore := 0, float32(0)
		for c := 0; c < classCount; c++ {
			if score := objectness * row[5+c]; score > bestScore {
				bestClass, bestScore = c, score
			}
		}
		if float64(bestScore) < a.cfg.ScoreThreshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		d := Detection{
			X1:      cx - w/2,
			Y1:      cy - h/2,
			X2:      cx + w/2,
			Y2:      cy + h/2,
			Score:   bestScore,
			ClassID: bestClass,
		}
		if bestClass < len(a.cfg.ClassNames) {
			d.Label = a.cfg.ClassNames[bestClass]
		}
		candidates = append(candidates, d)
	}

	return a.suppress(candidates), nil
}

// suppress applies per-class non-maximum suppression: keep the highest
// scoring box, drop boxes of the same class overlapping it beyond the
// IoU threshold, repeat.
func (a *DetectionAdapter) suppress(candidates []Detection) []Detection {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	kept := make([]Detection, 0, len(candidates))
	for _, candidate := range candidates {
		overlapping := false
		for _, winner := range kept {
			if winner.ClassID == candidate.ClassID &&
				iou(winner, candidate) > float32(a.cfg.IOUThreshold) {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func iou(a, b Detection) float32 {
	interX1 := max32(a.X1, b.X1)
	interY1 := max32(a.Y1, b.Y1)
	interX2 := min32(a.X2, b.X2)
	interY2 := min32(a.Y2, b.Y2)

	interW := interX2 - interX1
	interH := interY2 - interY1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// DummyInputs generates a deterministic pseudo-random batch for
// compute-only benchmarking.
func (a *DetectionAdapter) DummyInputs(batchSize int, seed int64) (map[string]tensor.Tensor, error) {
	size := a.cfg.InputSize
	rng := rand.New(rand.NewSource(seed))

	values := make([]float32, batchSize*size*size*3)
	for i := range values {
		values[i] = rng.Float32()
	}
	t, err := tensor.FromFloat32([]int{batchSize, size, size, 3}, values)
	if err != nil {
		return nil, err
	}
	return map[string]tensor.Tensor{a.cfg.InputName: t}, nil
}
