package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"renderd/internal/common/fsutil"
	"renderd/pkg/types"
)

// HeavyThresholdGB is the VRAM cost at or above which a model is classified
// heavy. At most one heavy model may be resident on the accelerator.
const HeavyThresholdGB = 8.0

// Default returns the built-in model registry for the production pipeline.
func Default() []types.ModelSpec {
	return classify([]types.ModelSpec{
		{Name: "wan_t2v", Path: "wan2.2-t2v-a14b", VRAMGB: 14},
		{Name: "wan_i2v", Path: "wan2.2-i2v-a14b", VRAMGB: 14},
		{Name: "wan_ti2v", Path: "wan2.2-ti2v-5b", VRAMGB: 8},
		{Name: "wan_animate", Path: "wan2.2-animate-14b", VRAMGB: 14},
		{Name: "wan_s2v", Path: "wan2.2-s2v-14b", VRAMGB: 14},
		{Name: "flux", Path: "flux-schnell", VRAMGB: 10},
		{Name: "live_portrait", Path: "liveportrait", VRAMGB: 4},
		{Name: "fish_speech", Path: "fish-speech", VRAMGB: 4},
		{Name: "cosy_voice", Path: "cosyvoice", VRAMGB: 4},
		{Name: "music_gen", Path: "musicgen", VRAMGB: 6},
		{Name: "whisper", Path: "whisper-large-v3", VRAMGB: 4},
	})
}

// fileSchema is the on-disk registry document shape.
type fileSchema struct {
	Models []types.ModelSpec `json:"models" yaml:"models" toml:"models"`
}

// Load reads a model registry file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) ([]types.ModelSpec, error) {
	base, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var doc fileSchema
	switch ext := strings.ToLower(filepath.Ext(base)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported registry extension: %s", ext)
	}
	for i, m := range doc.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("registry entry %d: missing name", i)
		}
		if m.VRAMGB <= 0 {
			return nil, fmt.Errorf("registry entry %q: vram_gb must be positive", m.Name)
		}
	}
	return classify(doc.Models), nil
}

// Find returns the spec for name, if registered.
func Find(specs []types.ModelSpec, name string) (types.ModelSpec, bool) {
	for _, m := range specs {
		if m.Name == name {
			return m, true
		}
	}
	return types.ModelSpec{}, false
}

func classify(specs []types.ModelSpec) []types.ModelSpec {
	for i := range specs {
		specs[i].Heavy = specs[i].VRAMGB >= HeavyThresholdGB
	}
	return specs
}
