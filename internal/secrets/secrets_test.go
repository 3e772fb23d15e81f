package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		env     map[string]string
		want    string
		wantErr string
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "sk-literal", want: "sk-literal"},
		{name: "variable", input: "${EI_TOKEN}", env: map[string]string{"EI_TOKEN": "abc"}, want: "abc"},
		{name: "embedded", input: "postgres://u:${EI_PASS}@db/labels", env: map[string]string{"EI_PASS": "pw"}, want: "postgres://u:pw@db/labels"},
		{name: "fallback used", input: "${EI_UNSET:-local}", want: "local"},
		{name: "empty fallback", input: "${EI_UNSET:-}", want: ""},
		{name: "missing", input: "${EI_UNSET}-${EI_OTHER}", wantErr: "EI_UNSET, EI_OTHER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EI_UNSET", "")
			t.Setenv("EI_OTHER", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := ExpandString(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string, mode os.FileMode) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), mode))
		return path
	}

	t.Run("trims trailing newlines", func(t *testing.T) {
		got, err := ReadFile(write("key", " sk-123 \r\n\n", 0o600))
		require.NoError(t, err)
		assert.Equal(t, " sk-123 ", got)
	})

	t.Run("permissive mode still reads", func(t *testing.T) {
		got, err := ReadFile(write("open", "value", 0o644))
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ReadFile(write("empty", "\n", 0o600))
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadFile(write("large", strings.Repeat("x", maxFileSize+1), 0o600))
		assert.ErrorContains(t, err, "exceeds")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir)
		assert.ErrorContains(t, err, "regular file")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "nope"))
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := ReadFile("")
		assert.Error(t, err)
	})
}

func TestResolvePrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_key")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("EI_KEY", "from-env")

	got, err := Resolve(path, "${EI_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = Resolve("", "${EI_KEY}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
