package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitae/vitae/backend/go-services/internal/config"
	"github.com/vitae/vitae/backend/go-services/internal/tokens"
)

func withConfig(t *testing.T, cfg *config.Config, err error) {
	t.Helper()
	orig := loadConfig
	loadConfig = func() (*config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfig = orig })
}

func memoryConfig() *config.Config {
	return &config.Config{
		Editing:  config.EditingConfig{Enabled: true, DefaultUser: config.DefaultUser},
		Storage:  config.StorageConfig{Driver: config.DriverMemory},
		JWT:      config.JWTConfig{Secret: "secret", TTL: time.Hour},
		LogLevel: "error",
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCmd(t *testing.T) {
	cfg := memoryConfig()
	withConfig(t, cfg, nil)

	out, err := run(t, "token", "--sub", "editor-9", "--ttl", "5m")
	require.NoError(t, err)

	tok, err := tokens.NewVerifier(cfg.JWT.Secret).Verify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, tok.Claims(&claims))
	require.Equal(t, "editor-9", claims["sub"])
}

func TestTokenCmd_NoSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWT.Secret = ""
	withConfig(t, cfg, nil)

	_, err := run(t, "token")
	require.Error(t, err)
}

func TestInstallCmds_Memory(t *testing.T) {
	withConfig(t, memoryConfig(), nil)

	out, err := run(t, "install")
	require.NoError(t, err)
	require.Contains(t, out, "memory: install done")

	out, err = run(t, "uninstall")
	require.NoError(t, err)
	require.Contains(t, out, "memory: uninstall done")
}

func TestPublishCmd_Empty(t *testing.T) {
	withConfig(t, memoryConfig(), nil)

	out, err := run(t, "publish")
	require.NoError(t, err)
	require.Contains(t, out, "published 0 statics")
}

func TestConfigError(t *testing.T) {
	withConfig(t, nil, errors.New(`unknown STORAGE_DRIVER "sqlite"`))

	_, err := run(t, "install")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load config")
}
