// Package config loads training settings from YAML files.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/lettercrf/crf"
)

// File is the on-disk layout of a training configuration.
type File struct {
	Data      string            `yaml:"data"`
	TrainFold int               `yaml:"train_fold"`
	Trainer   crf.TrainerConfig `yaml:"trainer"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Data:      "letters.json",
		TrainFold: 1,
		Trainer:   crf.DefaultTrainerConfig(),
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values; unknown keys are rejected.
func Load(path string) (File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Trainer.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg File) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
