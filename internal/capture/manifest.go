package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "latitude":    {"type": "number", "minimum": -90,  "maximum": 90},
    "longitude":   {"type": "number", "minimum": -180, "maximum": 180},
    "altitude":    {"type": "number"},
    "captured_at": {"type": "string", "format": "date-time"},
    "caption":     {"type": "string", "maxLength": 500}
  },
  "dependencies": {
    "latitude":  ["longitude"],
    "longitude": ["latitude"],
    "altitude":  ["latitude", "longitude"]
  }
}`

// Manifest is the optional JSON sidecar written next to a capture.
type Manifest struct {
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Altitude   *float64   `json:"altitude,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Caption    string     `json:"caption,omitempty"`
}

// Coordinate returns the manifest fix, or nil when it carries none.
func (m *Manifest) Coordinate() *entity.Coordinate {
	if m == nil || m.Latitude == nil || m.Longitude == nil {
		return nil
	}
	c := &entity.Coordinate{Latitude: *m.Latitude, Longitude: *m.Longitude}
	if m.Altitude != nil {
		c.Altitude = *m.Altitude
	}
	return c
}

// SidecarPath is where the manifest for capturePath lives.
func SidecarPath(capturePath string) string {
	return capturePath + constants.SidecarExt
}

var compiledManifestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("manifest.json", strings.NewReader(manifestSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("manifest.json")
})

// ParseManifest validates data against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "manifest is not JSON", errors.Join(common.ErrValidation, err))
	}
	if err := schema.Validate(v); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "manifest does not match schema", errors.Join(common.ErrValidation, err))
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "decode manifest", errors.Join(common.ErrValidation, err))
	}
	return &m, nil
}

// ReadManifest loads the sidecar for capturePath. A missing sidecar yields
// (nil, nil).
func ReadManifest(capturePath string) (*Manifest, error) {
	data, err := os.ReadFile(SidecarPath(capturePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("read manifest", err)
	}
	return ParseManifest(data)
}
