package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/config"
	"github.com/sells-group/competitor-intel/internal/credential"
	"github.com/sells-group/competitor-intel/internal/provider"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "match", "analyze", "migrate", "profiles", "credentials"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "compintel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	for _, name := range []string{"providers", "model", "industry", "quiet"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze should have --%s flag", name)
	}
	assert.Equal(t, "[anthropic]", analyzeCmd.Flags().Lookup("providers").DefValue)
}

func TestMatchCommand_Flags(t *testing.T) {
	flag := matchCmd.Flags().Lookup("algorithm")
	require.NotNil(t, flag)
	assert.Equal(t, "standard", flag.DefValue)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", mask("abc"))
	assert.Equal(t, "*******cdef", mask("sk-ant-cdef"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "cmd.db")
	c.Server.Port = 8080
	c.Analysis.MaxWorkers = 2
	c.Analysis.JobTimeoutSecs = 30
	c.Matching.CandidateLimit = 10
	c.Matching.EnsureThreshold = 0.9
	c.Providers.Anthropic.Key = "sk-ant-test"
	return c
}

func TestInitAnalysis_WiresConfiguredProviders(t *testing.T) {
	env, err := initAnalysis(context.Background(), testConfig(t), "analyze")
	require.NoError(t, err)
	defer env.Close()

	assert.True(t, env.Pool.Supports(provider.Anthropic))
	assert.False(t, env.Pool.Supports(provider.Gemini))
	assert.NotNil(t, env.Orchestrator)
	assert.NotNil(t, env.Tracker)
	assert.NoError(t, env.Store.Ping(context.Background()))
}

func TestInitAnalysis_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Analysis.MaxWorkers = 0
	_, err := initAnalysis(context.Background(), c, "analyze")
	assert.Error(t, err)
}

func TestInitAnalysis_BadRedisURL(t *testing.T) {
	c := testConfig(t)
	c.Redis.URL = "not-a-url"
	_, err := initAnalysis(context.Background(), c, "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	assert.Error(t, err)
}

func TestCredentialStore_PrefersConfig(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, credential.NewKeyring().Set("perplexity", "pplx-from-keyring"))

	c := testConfig(t)
	c.Providers.UseKeyring = true
	cs := credentialStore(c)

	v, err := cs.GetCredential(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", v)

	v, err = cs.GetCredential(context.Background(), "perplexity")
	require.NoError(t, err)
	assert.Equal(t, "pplx-from-keyring", v)

	c.Providers.UseKeyring = false
	_, err = credentialStore(c).GetCredential(context.Background(), "perplexity")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestCredentialsSet(t *testing.T) {
	keyring.MockInit()

	var out bytes.Buffer
	credentialsSetCmd.SetIn(strings.NewReader("gm-secret-1234\n"))
	credentialsSetCmd.SetOut(&out)
	require.NoError(t, credentialsSetCmd.RunE(credentialsSetCmd, []string{"gemini"}))
	assert.Contains(t, out.String(), "stored gemini credential")

	v, err := keyring.Get(credential.KeyringService, "gemini")
	require.NoError(t, err)
	assert.Equal(t, "gm-secret-1234", v)
}

func TestCredentialsSet_UnknownProvider(t *testing.T) {
	keyring.MockInit()
	err := credentialsSetCmd.RunE(credentialsSetCmd, []string{"openai"})
	assert.Error(t, err)
}
