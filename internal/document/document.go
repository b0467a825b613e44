// Package document converts data files into the ir value model.
//
// A Document is one parsed file. JSON, TOML and CUE files always produce
// exactly one object (the root value); YAML files produce one object per
// document in the stream. Documents are immutable once parsed.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/checkonaut/internal/ir"
)

// Format identifies the source syntax of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCUE  Format = "cue"
)

// Document is a parsed data file.
type Document struct {
	// Path is the absolute path of the file.
	Path string

	Format Format

	// Objects holds one value per embedded document, in stream order.
	Objects []ir.IRValue
}

// ParseError reports a file that could not be converted into the value model.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s document %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrUnknownFormat is returned for files whose extension is not a data format.
var ErrUnknownFormat = errors.New("unrecognised data file extension")

// FormatForPath returns the data format implied by a file's extension.
// Extensions are matched case-insensitively.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".cue":
		return FormatCUE, true
	default:
		return "", false
	}
}

// Load reads and parses the data file at path.
// The returned document always carries an absolute path.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	return Parse(abs, data)
}

// Parse converts raw file contents into a Document. The format is taken
// from the path's extension.
func Parse(path string, data []byte) (*Document, error) {
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	var (
		objects []ir.IRValue
		err     error
	)
	switch format {
	case FormatJSON:
		objects, err = decodeJSON(data)
	case FormatYAML:
		objects, err = decodeYAML(data)
	case FormatTOML:
		objects, err = decodeTOML(data)
	case FormatCUE:
		objects, err = decodeCUE(path, data)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Format: format, Err: err}
	}

	return &Document{Path: path, Format: format, Objects: objects}, nil
}

// DecodeJSON parses a single JSON value. It is shared with the host API so
// ReadJSON and JSON data files convert numbers identically.
func DecodeJSON(data []byte) (ir.IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	// Exactly one value per file
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, errors.New("unexpected data after top-level value")
	}

	return ir.FromAny(raw)
}

func decodeJSON(data []byte) ([]ir.IRValue, error) {
	v, err := DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	return []ir.IRValue{v}, nil
}

// decodeYAML decodes every document of a YAML stream.
func decodeYAML(data []byte) ([]ir.IRValue, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var objects []ir.IRValue
	for i := 0; ; i++ {
		var raw any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		objects = append(objects, v)
	}

	return objects, nil
}

func decodeTOML(data []byte) ([]ir.IRValue, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return []ir.IRValue{v}, nil
}

// decodeCUE evaluates a CUE file and exports its concrete value.
// Non-concrete or conflicting values are reported as parse errors.
func decodeCUE(path string, data []byte) ([]ir.IRValue, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %w", err)
	}

	exported, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("exporting CUE value: %w", err)
	}

	v, err := DecodeJSON(exported)
	if err != nil {
		return nil, err
	}
	return []ir.IRValue{v}, nil
}
