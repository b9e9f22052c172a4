package ports

import "github.com/reglet-dev/reglet-workers/domain/entities"

// ManifestParser parses raw YAML bytes into a worker Manifest.
type ManifestParser interface {
	// Parse unmarshals YAML bytes into a Manifest struct.
	Parse(data []byte) (*entities.Manifest, error)
}
