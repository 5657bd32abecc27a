package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Brownie44l1/aidetect-api/internal/inference"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

const (
	DefaultInputName  = "input"
	DefaultOutputName = "output"
)

// Metadata describes the exported classifier, stored next to the .onnx file.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// Spec is what the session needs to pack inputs and read outputs.
type Spec struct {
	Layout        inference.Layout
	ChannelsFirst bool
	// FixedBatch is the model's static batch dimension, 0 when dynamic.
	FixedBatch    int
	// ScalarOutput is true for a rank-1 output of shape [N].
	ScalarOutput  bool
}

func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if meta.InputName == "" {
		meta.InputName = DefaultInputName
	}
	if meta.OutputName == "" {
		meta.OutputName = DefaultOutputName
	}
	return meta, nil
}

// Resolve pins the input and output contract. The output must be either one
// P(REAL) per tile or a [FAKE, REAL] pair; anything else is rejected here so
// it is never reinterpreted at inference time.
func (m Metadata) Resolve() (Spec, error) {
	var spec Spec

	if m.ImageSize != 0 && m.ImageSize != tiles.TileSize {
		return spec, fmt.Errorf("model expects %dpx input, tiles are %dpx", m.ImageSize, tiles.TileSize)
	}

	if len(m.InputShape) != 4 {
		return spec, fmt.Errorf("input shape %v: want rank 4", m.InputShape)
	}
	const s, c = tiles.TileSize, tiles.Channels
	switch in := m.InputShape; {
	case in[1] == s && in[2] == s && in[3] == c:
		spec.ChannelsFirst = false
	case in[1] == c && in[2] == s && in[3] == s:
		spec.ChannelsFirst = true
	default:
		return spec, fmt.Errorf("input shape %v: want [N,%d,%d,%d] or [N,%d,%d,%d]", m.InputShape, s, s, c, c, s, s)
	}
	if m.InputShape[0] > 0 {
		spec.FixedBatch = int(m.InputShape[0])
	}

	switch len(m.OutputShape) {
	case 1:
		spec.ScalarOutput = true
		spec.Layout = inference.LayoutRealScalar
	case 2:
		switch m.OutputShape[1] {
		case 1:
			spec.Layout = inference.LayoutRealScalar
		case 2:
			spec.Layout = inference.LayoutFakeReal
		default:
			return spec, fmt.Errorf("output shape %v: want 1 or 2 values per tile", m.OutputShape)
		}
	default:
		return spec, fmt.Errorf("output shape %v: want [N] or [N,k]", m.OutputShape)
	}

	if spec.Layout == inference.LayoutFakeReal {
		if len(m.Classes) != 2 || !strings.EqualFold(m.Classes[0], "FAKE") || !strings.EqualFold(m.Classes[1], "REAL") {
			return spec, fmt.Errorf("two-class output needs classes [FAKE REAL], got %v", m.Classes)
		}
	}

	return spec, nil
}
