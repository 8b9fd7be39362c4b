package crystal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	xdr "github.com/rasky/go-xdr/xdr2"
	"gopkg.in/yaml.v3"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

// Serializer converts a root object to bytes and back.
type Serializer[T any] interface {
	Serialize(v *T) ([]byte, error)
	Deserialize(data []byte, v *T) error
}

// DefaultSerializer picks the serializer for a save format. Utf8 files use
// YAML when path ends in .yaml or .yml and JSON otherwise; binary files use XDR.
func DefaultSerializer[T any](format core.SaveFormat, path string) Serializer[T] {
	if format == core.FormatUtf8 {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			return YAMLSerializer[T]{}
		}
		return JSONSerializer[T]{}
	}
	return XDRSerializer[T]{}
}

// --- JSON Serializer ---

// JSONSerializer handles JSON encoded objects.
type JSONSerializer[T any] struct {
	// Strict rejects unknown fields when decoding.
	Strict bool
}

func (s JSONSerializer[T]) Serialize(v *T) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSerialize, err)
	}
	return data, nil
}

func (s JSONSerializer[T]) Deserialize(data []byte, v *T) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if s.Strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w: %w", core.ErrDeserialize, err)
	}
	return nil
}

// --- YAML Serializer ---

// YAMLSerializer handles YAML encoded objects.
type YAMLSerializer[T any] struct{}

func (YAMLSerializer[T]) Serialize(v *T) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSerialize, err)
	}
	return data, nil
}

func (YAMLSerializer[T]) Deserialize(data []byte, v *T) error {
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid yaml: %w: %w", core.ErrDeserialize, err)
	}
	return nil
}

// --- XDR Serializer ---

// XDRSerializer handles binary objects in XDR encoding. Maps are not
// representable; use slices of pairs instead.
type XDRSerializer[T any] struct{}

func (XDRSerializer[T]) Serialize(v *T) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSerialize, err)
	}
	return buf.Bytes(), nil
}

func (XDRSerializer[T]) Deserialize(data []byte, v *T) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("invalid xdr: %w: %w", core.ErrDeserialize, err)
	}
	return nil
}
