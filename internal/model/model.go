// Package model holds the immutable per-process model metadata: the model
// name and the id→label mapping used to decode classifier outputs.
package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
)

// Handle is shared read-only by every batch for the lifetime of the process.
type Handle struct {
	Name     string
	id2label map[int]string
}

// NewHandle builds the model handle from configuration. The ID2LABEL env
// mapping takes precedence; otherwise the mapping is read from the model
// directory's config.json. A handle with no mapping is valid, labels then
// fall back to LABEL_<id>.
func NewHandle(appConfigs *configs.AppConfigs) (*Handle, error) {
	cfg := appConfigs.Configs

	h := &Handle{Name: cfg.ModelName}

	if cfg.ModelId2Label != "" {
		mapping, err := ParseId2Label(cfg.ModelId2Label)
		if err != nil {
			return nil, err
		}
		h.id2label = mapping
		logger.Info(fmt.Sprintf("Loaded id2label mapping from environment, %d labels", len(mapping)))
		return h, nil
	}

	if cfg.ModelPath != "" {
		mapping, err := loadId2LabelFromModelDir(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		h.id2label = mapping
		logger.Info(fmt.Sprintf("Loaded id2label mapping from %s, %d labels", cfg.ModelPath, len(mapping)))
	}

	return h, nil
}

// NewStaticHandle builds a handle from an in-memory mapping, for embedders
// and tests that bypass configuration loading.
func NewStaticHandle(name string, id2label map[int]string) *Handle {
	return &Handle{Name: name, id2label: id2label}
}

// Label resolves a class index to its human-readable label, falling back to
// LABEL_<id> when the mapping has no entry.
func (h *Handle) Label(id int) string {
	if label, ok := h.id2label[id]; ok {
		return label
	}
	return fmt.Sprintf("LABEL_%d", id)
}

// NumClasses returns the size of the configured mapping, 0 when unmapped.
func (h *Handle) NumClasses() int {
	return len(h.id2label)
}

// ParseId2Label parses the "0=No Claim,1=Claim" mapping format.
func ParseId2Label(raw string) (map[int]string, error) {
	mapping := make(map[int]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid id2label pair %q", pair)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid id2label id %q: %w", parts[0], err)
		}
		mapping[id] = parts[1]
	}
	return mapping, nil
}

// loadId2LabelFromModelDir reads the id2label block from the model
// directory's config.json (HuggingFace layout).
func loadId2LabelFromModelDir(modelPath string) (map[int]string, error) {
	configFile := filepath.Join(modelPath, "config.json")

	k := koanf.New(".")
	if err := k.Load(file.Provider(configFile), json.Parser()); err != nil {
		return nil, fmt.Errorf("load model config %s: %w", configFile, err)
	}

	raw := k.StringMap("id2label")
	if len(raw) == 0 {
		return nil, fmt.Errorf("id2label not found in %s and ID2LABEL not set", configFile)
	}

	mapping := make(map[int]string, len(raw))
	for key, label := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid id2label key %q in %s: %w", key, configFile, err)
		}
		mapping[id] = label
	}
	return mapping, nil
}
