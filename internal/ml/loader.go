package ml

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// LoadModelFile reads and validates a serialized model. It returns the raw
// bytes, which is what interpreters and oracles are built from, together
// with the decoded model.
func LoadModelFile(path string) ([]byte, *Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model file: %w", err)
	}

	model, err := GetModel(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	if err := model.validate(); err != nil {
		return nil, nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"path":      path,
		"tensors":   len(model.Tensors),
		"operators": len(model.Operators),
	}).Infof("Loaded model: %s", model.Description)

	return data, model, nil
}
