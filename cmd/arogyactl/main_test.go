package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/arogya/internal/config"
	"github.com/ashureev/arogya/internal/domain"
	"github.com/ashureev/arogya/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:                "8080",
		DBDriver:            "sqlite",
		DBPath:              filepath.Join(dir, "arogya.db"),
		JWTSecret:           "0123456789abcdef0123456789abcdef",
		AuthTokenTTL:        time.Hour,
		RemedyLookupTimeout: time.Second,
		MaxRequestBodySize:  1 << 20,
		RateLimit:           config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
		ConversationLog:     config.ConversationLogConfig{Dir: filepath.Join(dir, "logs"), QueueSize: 8},
		Log:                 config.LogConfig{Level: "error"},
	}
}

// run executes arogyactl with args and returns stdout.
func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := &cli{
		out:    &out,
		errOut: &errOut,
		load: func() (*config.Config, error) {
			copied := *cfg
			return &copied, nil
		},
	}
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeed(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "seed")
	require.NoError(t, err)
	assert.Equal(t, "Seeded 6 remedies\n", out)

	out, err = run(t, cfg, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to seed")
}

func TestImportAndAsk(t *testing.T) {
	cfg := testConfig(t)
	csvPath := filepath.Join(t.TempDir(), "remedies.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"plant name,symptoms,herbs,recommendations,precautions\n"+
			"Neem,Skin rash,Neem leaves,Apply neem paste,Not for infants\n"+
			",,,,\n"), 0o644))

	out, err := run(t, cfg, "import", csvPath)
	require.NoError(t, err)
	assert.Equal(t, "Imported 1 remedies (1 rows skipped)\n", out)

	out, err = run(t, cfg, "ask", "skin", "rash")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "🌿 Based on your query"))
	assert.Contains(t, out, "Neem")
	assert.Contains(t, out, "⚠️ Precautions: Not for infants")
}

func TestImportMissingFile(t *testing.T) {
	_, err := run(t, testConfig(t), "import", filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestAskWithAccountAndHistory(t *testing.T) {
	cfg := testConfig(t)
	repo, err := store.NewSQLite(cfg.DBPath)
	require.NoError(t, err)
	require.NoError(t, repo.CreateUser(context.Background(), &domain.User{
		Email: "asha@example.com", Name: "Asha", PasswordHash: "x",
	}))
	require.NoError(t, repo.Close())

	out, err := run(t, cfg, "ask", "--email", "asha@example.com", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Namaste!")

	out, err = run(t, cfg, "history", "--email", "asha@example.com")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "hello"))

	sessionID := strings.Fields(lines[0])[0]
	out, err = run(t, cfg, "history", "--email", "asha@example.com", "--session", sessionID)
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasSuffix(lines[0], "] you: hello"))
	assert.Contains(t, lines[1], "] arogya: 🙏 Namaste!")
	assert.NotContains(t, out, "bot:")
}

func TestAskErrors(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown account", []string{"ask", "--email", "ghost@example.com", "hi"}, "no account registered"},
		{"addr without token", []string{"ask", "--addr", "localhost:1", "hi"}, "--token is required"},
		{"history needs a target", []string{"history"}, "either --addr or --email"},
		{"blank message", []string{"ask", "   "}, "No message provided"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, cfg, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDBFlagOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	other := filepath.Join(t.TempDir(), "other.db")

	_, err := run(t, cfg, "seed", "--db", other)
	require.NoError(t, err)

	_, err = os.Stat(other)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.DBPath)
	assert.True(t, os.IsNotExist(err))
}
