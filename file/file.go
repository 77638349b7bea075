// Package file reads and writes the wizard's JSON configuration.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	models "github.com/CK6170/Vitals-go/models"
)

// ErrNoConfig is returned by LoadParameters when path does not exist.
var ErrNoConfig = errors.New("config file not found")

// LoadParameters reads the config at path, fills every omitted section with
// the stock layout and validates the result.
func LoadParameters(path string) (*models.PARAMETERS, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return nil, err
	}
	return DecodeParameters(raw)
}

// DecodeParameters is LoadParameters without the file read.
func DecodeParameters(raw []byte) (*models.PARAMETERS, error) {
	var p models.PARAMETERS
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &p, nil
}

// PersistParameters overwrites the JSON file at path with the provided
// parameters.
func PersistParameters(path string, parameters *models.PARAMETERS) error {
	data, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write parameters file: %w", err)
	}
	return nil
}

// PersistPort rewrites only SERIAL.PORT in the file at path, leaving every
// other key as the operator wrote it. A missing file is created with just
// the SERIAL section.
func PersistPort(path, port string) error {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	out, err := updateRawSerialPort(raw, port)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func updateRawSerialPort(raw []byte, newPort string) ([]byte, error) {
	m := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	serialAny, ok := m["SERIAL"]
	if !ok || serialAny == nil {
		m["SERIAL"] = map[string]interface{}{"PORT": newPort}
	} else {
		sm, ok := serialAny.(map[string]interface{})
		if !ok {
			// if SERIAL isn't an object, overwrite it
			m["SERIAL"] = map[string]interface{}{"PORT": newPort}
		} else {
			sm["PORT"] = newPort
			m["SERIAL"] = sm
		}
	}
	return json.MarshalIndent(m, "", "  ")
}
