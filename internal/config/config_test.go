package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/disturb/pkg/api"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const jsonDefinition = `{
  "name": "shop",
  "servicesClassNameSpace": "shop",
  "storageAdapter": "sqlite",
  "storageConfig": {"dsn": "file::memory:", "index": "shop_context"},
  "brokerAdapter": "nats",
  "brokerConfig": {"host": "nats://127.0.0.1:4222"},
  "steps": [
    {"name": "fetch"},
    [{"name": "resize"}, {"name": "index"}]
  ]
}`

func TestLoadJSON(t *testing.T) {
	def, err := Load(writeFile(t, "shop.json", jsonDefinition))
	require.NoError(t, err)

	assert.Equal(t, "shop", def.Name)
	assert.Equal(t, "shop", def.ServicesNamespace)
	assert.Equal(t, "sqlite", def.StorageAdapter)
	assert.Equal(t, "file::memory:", def.StorageConfig["dsn"])
	assert.Equal(t, "shop_context", def.StorageConfig["index"])
	assert.Equal(t, "nats", def.BrokerAdapter)
	assert.Equal(t, "nats://127.0.0.1:4222", def.BrokerConfig["host"])

	require.Len(t, def.Steps, 2)
	assert.Equal(t, api.GroupSingle, def.Steps[0].Kind)
	assert.Equal(t, []string{"fetch"}, def.Steps[0].Names())
	assert.Equal(t, api.GroupParallel, def.Steps[1].Kind)
	assert.Equal(t, []string{"resize", "index"}, def.Steps[1].Names())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "shop.yaml", `
name: shop
storageAdapter: memory
steps:
  - name: fetch
  - - name: resize
    - name: index
`)
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "resize", "index"}, def.StepNames())
	assert.Equal(t, api.GroupParallel, def.Steps[1].Kind)
	assert.Equal(t, "memory", def.BrokerAdapter)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "shop.toml", `
name = "shop"
storageAdapter = "diskv"

[storageConfig]
path = "/tmp/disturb"

[[steps]]
name = "fetch"

[[steps]]
name = "process"
`)
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "process"}, def.StepNames())
	assert.Equal(t, "/tmp/disturb", def.StorageConfig["path"])
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		target  error
	}{
		{"unsupported extension", "shop.php", `<?php return [];`, ErrUnsupportedExtension},
		{"malformed json", "shop.json", `{"name":`, ErrInvalid},
		{"missing name", "shop.json", `{"storageAdapter":"memory","steps":[]}`, ErrInvalid},
		{"bad workflow name", "shop.json", `{"name":"my-shop","storageAdapter":"memory"}`, ErrInvalid},
		{"missing storage adapter", "shop.json", `{"name":"shop"}`, ErrInvalid},
		{"unknown storage adapter", "shop.json", `{"name":"shop","storageAdapter":"elastic"}`, ErrInvalid},
		{"missing storage field", "shop.json", `{"name":"shop","storageAdapter":"redis"}`, ErrInvalid},
		{"missing broker host", "shop.json", `{"name":"shop","storageAdapter":"memory","brokerAdapter":"redis"}`, ErrInvalid},
		{"duplicate step", "shop.json", `{"name":"shop","storageAdapter":"memory","steps":[{"name":"a"},[{"name":"b"},{"name":"a"}]]}`, ErrInvalid},
		{"reserved step", "shop.json", `{"name":"shop","storageAdapter":"memory","steps":[{"name":"manager"}]}`, ErrInvalid},
		{"step without name", "shop.json", `{"name":"shop","storageAdapter":"memory","steps":[{"code":"a"}]}`, ErrInvalid},
		{"empty parallel group", "shop.json", `{"name":"shop","storageAdapter":"memory","steps":[[]]}`, ErrInvalid},
		{"scalar step", "shop.json", `{"name":"shop","storageAdapter":"memory","steps":["a"]}`, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.ErrorIs(t, err, tt.target)
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.NotEmpty(t, cerr.Path)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestZeroStepDefinitionIsValid(t *testing.T) {
	def, err := Load(writeFile(t, "empty.json", `{"name":"empty","storageAdapter":"memory"}`))
	require.NoError(t, err)
	assert.Empty(t, def.Steps)
}
