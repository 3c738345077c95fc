package toolpack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

// LoadFile reads a pack from a YAML or JSON file. The pack id defaults to
// the file name without extension.
func LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodePackNotFound, fmt.Sprintf("failed to read tool pack %s", path), err)
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidSpec, fmt.Sprintf("failed to parse tool pack %s", path), err)
	}
	if pack.ID == "" {
		base := filepath.Base(path)
		pack.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := pack.Validate(); err != nil {
		return nil, err
	}
	return &pack, nil
}

// WriteFile stores p as YAML.
func WriteFile(path string, p *Pack) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidSpec, "failed to encode tool pack", err)
	}
	return os.WriteFile(path, data, 0o644)
}
