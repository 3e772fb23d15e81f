package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/conf"
)

func TestShowRedactsSecrets(t *testing.T) {
	s := &conf.Settings{}
	s.Provider.APIKey = "sk-live-123"
	s.Provider.BaseURL = "https://api.example.test/v1"
	s.LabelIndex.Postgres.DSN = "postgres://user:pw@db/labels"
	s.ConfigFile = "/etc/entityindex/config.yaml"

	cmd := Command(s)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "# loaded from /etc/entityindex/config.yaml")
	assert.Contains(t, text, "https://api.example.test/v1")
	assert.NotContains(t, text, "sk-live-123")
	assert.NotContains(t, text, "user:pw")
	assert.Equal(t, "sk-live-123", s.Provider.APIKey, "settings are not modified")
}

func TestDefaultPrintsEmbeddedConfig(t *testing.T) {
	want, err := conf.DefaultConfigYAML()
	require.NoError(t, err)

	cmd := Command(&conf.Settings{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"default"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, string(want), out.String())
}
