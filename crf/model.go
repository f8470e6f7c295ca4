package crf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveModel writes the model as JSON. The file is written next to path and
// renamed into place, so readers never see a partial model.
func SaveModel(model *Model, path string) error {
	data, err := MarshalModel(model)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadModel reads a model written by SaveModel.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}

// MarshalModel validates the model and encodes it as JSON.
func MarshalModel(model *Model) ([]byte, error) {
	if err := model.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(model)
}

// UnmarshalModel deserializes a model from JSON bytes and checks that the
// weight vector matches the declared dimensions.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if len(model.Labels) != 0 && len(model.Labels) != model.NumLabels {
		return nil, &ShapeError{What: "label names", Got: len(model.Labels), Want: model.NumLabels}
	}
	return &model, nil
}
