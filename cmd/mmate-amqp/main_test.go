package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-amqp/config"
)

const profileFile = `
use: local
properties:
  local:
    exchange: test
    queue: q1
  staging:
    host: rabbit.staging
    exchange: events
    queue: billing
`

func TestSelectProfile(t *testing.T) {
	profiles := config.Profiles{Use: "local"}

	t.Run("file selection", func(t *testing.T) {
		t.Setenv(profileEnv, "")
		assert.Equal(t, "local", selectProfile(profiles, ""))
		assert.Equal(t, config.DefaultProfile, selectProfile(config.Profiles{}, ""))
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv(profileEnv, "staging")
		assert.Equal(t, "staging", selectProfile(profiles, ""))
	})

	t.Run("flag overrides environment", func(t *testing.T) {
		t.Setenv(profileEnv, "staging")
		assert.Equal(t, "prod", selectProfile(profiles, "prod"))
	})
}

func TestLoadProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profileFile), 0o600))
	t.Setenv(profileEnv, "")

	t.Run("without a file uses defaults", func(t *testing.T) {
		props, err := loadProperties("", "")
		require.NoError(t, err)
		assert.Equal(t, config.Defaults().Address(), props.Address())
	})

	t.Run("active profile", func(t *testing.T) {
		props, err := loadProperties(path, "")
		require.NoError(t, err)
		assert.Equal(t, "q1", props.Queue)
		assert.Equal(t, "localhost", props.Host)
	})

	t.Run("named profile", func(t *testing.T) {
		props, err := loadProperties(path, "staging")
		require.NoError(t, err)
		assert.Equal(t, "rabbit.staging:5672", props.Address())
		assert.Equal(t, "billing", props.Queue)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := loadProperties(path, "prod")
		assert.ErrorIs(t, err, config.ErrUnknownProfile)
	})
}
