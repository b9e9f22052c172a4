package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchema_NestedStruct(t *testing.T) {
	type ServerConfig struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}

	type Config struct {
		Server  ServerConfig `json:"server"`
		Timeout int          `json:"timeout"`
	}

	schema, err := GenerateSchema(Config{})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(schema, &decoded))

	assert.Contains(t, string(schema), "server")
	assert.Contains(t, string(schema), "host")
	assert.Contains(t, string(schema), "timeout")
}

func TestManifestSchema(t *testing.T) {
	raw, err := ManifestSchema()
	require.NoError(t, err)

	var s struct {
		ID         string         `json:"$id"`
		Title      string         `json:"title"`
		Required   []string       `json:"required"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &s))

	assert.Equal(t, ManifestSchemaID, s.ID)
	assert.ElementsMatch(t, []string{"name", "module"}, s.Required)
	assert.Contains(t, s.Properties, "classes")
	assert.Contains(t, s.Properties, "env")
	assert.Contains(t, string(raw), `"durable"`)
	assert.Contains(t, string(raw), `"rpc"`)
}
