// Package parser decodes worker manifests.
package parser

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/reglet-workers/domain/entities"
	werrors "github.com/reglet-dev/reglet-workers/domain/errors"
	"github.com/reglet-dev/reglet-workers/domain/ports"
)

// YamlManifestParser implements ports.ManifestParser for YAML. Unknown
// fields are rejected.
type YamlManifestParser struct{}

// NewYamlManifestParser creates a YamlManifestParser.
func NewYamlManifestParser() ports.ManifestParser {
	return &YamlManifestParser{}
}

// Parse decodes a worker.yaml document.
func (p *YamlManifestParser) Parse(data []byte) (*entities.Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var manifest entities.Manifest
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty manifest")
		}
		return nil, &werrors.WireFormatError{Err: err, Operation: "decode", Type: "Manifest"}
	}
	return &manifest, nil
}
