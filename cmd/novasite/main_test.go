package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "novasite dev\n", out.String())
}

func TestOptimizeConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "media.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input_dir: from-file/raw
output_dir: from-file/out
workers: 2
breakpoints: [640, 1280]
`), 0o644))

	t.Cleanup(func() {
		optimizeFlags.config = ""
		optimizeFlags.input = ""
		optimizeFlags.workers = 0
		optimizeCmd.Flags().Lookup("input").Changed = false
		optimizeCmd.Flags().Lookup("workers").Changed = false
	})
	require.NoError(t, optimizeCmd.Flags().Set("config", path))
	require.NoError(t, optimizeCmd.Flags().Set("input", "from-flag/raw"))
	require.NoError(t, optimizeCmd.Flags().Set("workers", "4"))

	cfg, err := optimizeConfig(optimizeCmd)
	require.NoError(t, err)
	assert.Equal(t, "from-flag/raw", cfg.InputDir)
	assert.Equal(t, "from-file/out", cfg.OutputDir)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []int{640, 1280}, cfg.Breakpoints)
}

func TestSiteConfigFromEnv(t *testing.T) {
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("ALLOW_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("MEDIA_CONFIG", "")

	cfg, err := siteConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 465, cfg.SMTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
	assert.True(t, cfg.CookieSecure)
}
