package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported manifest format")

// Codec converts manifests to and from a document format.
type Codec interface {
	Decode(r io.Reader) (*Manifest, error)
	Encode(w io.Writer, m *Manifest) error
}

type yamlCodec struct{}

func (yamlCodec) Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &m, nil
}

func (yamlCodec) Encode(w io.Writer, m *Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

type jsonCodec struct{}

func (jsonCodec) Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (jsonCodec) Encode(w io.Writer, m *Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

type tomlCodec struct{}

func (tomlCodec) Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := toml.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (tomlCodec) Encode(w io.Writer, m *Manifest) error {
	return toml.NewEncoder(w).Encode(m)
}

var (
	YAML Codec = yamlCodec{}
	JSON Codec = jsonCodec{}
	TOML Codec = tomlCodec{}
)

// CodecFor selects a codec from the file extension of name.
// Supports: .yaml/.yml, .json, .toml
func CodecFor(name string) (Codec, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	case ".toml":
		return TOML, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Parse decodes and validates a manifest document whose format is chosen by
// the extension of name.
func Parse(name string, data []byte) (*Manifest, error) {
	c, err := CodecFor(name)
	if err != nil {
		return nil, err
	}
	m, err := c.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	return m, nil
}

// Read loads and validates the manifest stored at name on fs.
func Read(fs afero.Fs, name string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, err
	}
	return Parse(name, data)
}

// ReadOptional is Read, but a missing file yields (nil, nil).
func ReadOptional(fs afero.Fs, name string) (*Manifest, error) {
	ok, err := afero.Exists(fs, name)
	if err != nil || !ok {
		return nil, err
	}
	return Read(fs, name)
}

// Write encodes m into name on fs. The document is written to a temporary
// file in the same directory and renamed over name.
func Write(fs afero.Fs, name string, m *Manifest) error {
	c, err := CodecFor(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf, m); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	dir := filepath.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, dir, ".manifest-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}
	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return err
	}
	return nil
}
