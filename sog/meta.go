package sog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MetaVersion is the bundle format version written to meta.json.
const MetaVersion = 2

// Meta is the meta.json sidecar describing how to decode a bundle's rasters.
type Meta struct {
	Version int       `json:"version"`
	Asset   AssetMeta `json:"asset"`
	Count   int       `json:"count"`
	Means   MeansMeta `json:"means"`
	Scales  FieldMeta `json:"scales"`
	Quats   FilesMeta `json:"quats"`
	SH0     FieldMeta `json:"sh0"`
	SHN     *SHNMeta  `json:"shN,omitempty"`
}

type AssetMeta struct {
	Generator string `json:"generator"`
}

// MeansMeta holds the log-space bounds needed to dequantize positions.
type MeansMeta struct {
	Mins  [3]float64 `json:"mins"`
	Maxs  [3]float64 `json:"maxs"`
	Files []string   `json:"files"`
}

type FilesMeta struct {
	Files []string `json:"files"`
}

// FieldMeta is a byte-quantized field with its codebook.
type FieldMeta struct {
	Codebook []float32 `json:"codebook"`
	Files    []string  `json:"files"`
}

// SHNMeta describes the palette-quantized higher-order SH coefficients.
type SHNMeta struct {
	Count       int       `json:"count"`
	PaletteSize int       `json:"palette_size"`
	Bands       int       `json:"bands"`
	Coeffs      int       `json:"coeffs"`
	Codebook    []float32 `json:"codebook"`
	Files       []string  `json:"files"`
}

//go:embed meta_schema.json
var metaSchemaJSON string

var (
	metaSchemaOnce sync.Once
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
)

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		metaSchema, metaSchemaErr = jsonschema.CompileString("meta_schema.json", metaSchemaJSON)
	})
	return metaSchema, metaSchemaErr
}

// ValidateMeta checks a meta.json document against the bundle schema.
func ValidateMeta(data []byte) error {
	sch, err := compiledMetaSchema()
	if err != nil {
		return fmt.Errorf("bad metadata schema: %v", err)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

// Marshal serializes the metadata and validates the result against the bundle schema.
func (m *Meta) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("can't serialize metadata: %v", err)
	}
	data := buf.Bytes()
	if err := ValidateMeta(data); err != nil {
		return nil, fmt.Errorf("metadata fails schema validation: %v", err)
	}
	return data, nil
}
