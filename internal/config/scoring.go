package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/scoring"
)

// LoadScoring reads and validates a scoring constants file. Nothing is
// defaulted: a missing file, an unknown key, a missing tier or an out of
// range value is an error.
func LoadScoring(path string) (scoring.Config, error) {
	if path == "" {
		return scoring.Config{}, fmt.Errorf("%w: scoring config path is empty", domain.ErrMissingConfig)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return scoring.Config{}, fmt.Errorf("%w: scoring config %s does not exist", domain.ErrMissingConfig, path)
		}
		return scoring.Config{}, fmt.Errorf("failed to open scoring config: %w", err)
	}
	defer f.Close()

	return DecodeScoring(f)
}

// DecodeScoring decodes one YAML document into a validated scoring.Config.
func DecodeScoring(r io.Reader) (scoring.Config, error) {
	var cfg scoring.Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return scoring.Config{}, fmt.Errorf("%w: scoring config is empty", domain.ErrMissingConfig)
		}
		return scoring.Config{}, fmt.Errorf("%w: invalid scoring config: %v", domain.ErrInvalidInput, err)
	}

	if err := cfg.Validate(); err != nil {
		return scoring.Config{}, err
	}
	return cfg, nil
}
