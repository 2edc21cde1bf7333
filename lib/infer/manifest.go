// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package infer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Manifest describes one deployable model: which engine runs it, the
// model file, and the adapter wiring. Manifests are authored as JSONC
// files (JSON with // comments and trailing commas) next to the model
// files in the worker's model directory.
type Manifest struct {
	// Name is the model's cluster-wide name, used in load_model
	// commands. Defaults to the manifest filename without extension.
	Name string `json:"name"`

	// Engine selects the execution backend. Currently "identity".
	Engine string `json:"engine"`

	// ModelPath is the model file, relative to the manifest unless
	// absolute.
	ModelPath string `json:"model_path"`

	// Adapter selects the preprocessing/postprocessing family.
	// Currently "detection" or empty for none.
	Adapter string `json:"adapter"`

	// InputNames and OutputNames declare the model's tensor interface.
	InputNames  []string `json:"input_names"`
	OutputNames []string `json:"output_names"`

	// Detection configures the detection adapter. Ignored for other
	// adapters.
	Detection DetectionConfig `json:"detection"`
}

// DetectionConfig parameterizes the detection adapter.
type DetectionConfig struct {
	// InputName keys the tensor feed the adapter produces. Defaults to
	// the manifest's first input name.
	InputName string `json:"input_name"`

	// InputSize is the square input resolution. Default: 416.
	InputSize int `json:"input_size"`

	// ScoreThreshold drops detections below this confidence.
	// Default: 0.25.
	ScoreThreshold float64 `json:"score_threshold"`

	// IOUThreshold is the non-maximum-suppression overlap cutoff.
	// Default: 0.45.
	IOUThreshold float64 `json:"iou_threshold"`

	// ClassNames maps class indices to labels, in index order.
	ClassNames []string `json:"class_names"`
}

// ParseManifest strips JSONC comments and trailing commas from data
// and unmarshals the manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// ReadManifest reads and parses a JSONC manifest file, resolving the
// model path relative to the manifest and defaulting the name from the
// filename.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if m.Name == "" {
		base := filepath.Base(path)
		m.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if m.ModelPath != "" && !filepath.IsAbs(m.ModelPath) {
		m.ModelPath = filepath.Join(filepath.Dir(path), m.ModelPath)
	}
	return m, nil
}

// DiscoverManifests parses every *.jsonc manifest in dir, keyed by
// model name. A missing directory yields an empty map; workers without
// models are valid.
func DiscoverManifests(dir string, logger *slog.Logger) (map[string]*Manifest, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonc"))
	if err != nil {
		return nil, fmt.Errorf("listing manifests in %s: %w", dir, err)
	}

	manifests := make(map[string]*Manifest)
	for _, path := range paths {
		m, err := ReadManifest(path)
		if err != nil {
			logger.Warn("skipping unreadable model manifest", "path", path, "error", err)
			continue
		}
		if existing, ok := manifests[m.Name]; ok {
			return nil, fmt.Errorf("duplicate model name %q (%s and %s)", m.Name, existing.ModelPath, path)
		}
		manifests[m.Name] = m
		logger.Info("discovered model", "name", m.Name, "engine", m.Engine, "adapter", m.Adapter)
	}
	return manifests, nil
}

// NewSessionFromManifest builds a ready session: engine by manifest
// engine name, adapter by manifest adapter name.
func NewSessionFromManifest(m *Manifest, logger *slog.Logger) (*Session, error) {
	var engine Engine
	switch m.Engine {
	case "identity":
		engine = NewIdentityEngine(m.InputNames, m.OutputNames)
	default:
		return nil, fmt.Errorf("unsupported engine %q", m.Engine)
	}

	var adapter Adapter
	switch m.Adapter {
	case "":
	case "detection":
		detection := m.Detection
		if detection.InputName == "" && len(m.InputNames) > 0 {
			detection.InputName = m.InputNames[0]
		}
		adapter = NewDetectionAdapter(detection)
	default:
		return nil, fmt.Errorf("unsupported adapter %q", m.Adapter)
	}

	return NewSession(engine, adapter, logger), nil
}
