package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/goclaw/recall/config"
	"github.com/goclaw/recall/pkg/logger"
	"github.com/goclaw/recall/pkg/version"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"recall"}, args...))
	return out.String(), err
}

// writeBadgerConfig writes a config file that stores records under dir.
func writeBadgerConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "recall.yaml")
	body := "storage:\n" +
		"  type: badger\n" +
		"  badger:\n" +
		"    path: " + filepath.Join(dir, "data") + "\n" +
		"log:\n" +
		"  level: error\n" +
		"  output: stderr\n" +
		"metrics:\n" +
		"  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "query", "version"}, names)

	query := app.Command("query")
	require.NotNil(t, query)
	var required []string
	for _, f := range query.Flags {
		if rf, ok := f.(cli.RequiredFlag); ok && rf.IsRequired() {
			required = append(required, f.Names()[0])
		}
	}
	assert.Equal(t, []string{"user"}, required)
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestBuildOverrides(t *testing.T) {
	app := newApp()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", "", "")
	set.Bool("debug", false, "")
	set.Int("port", 0, "")
	require.NoError(t, set.Parse([]string{"-log-level", "debug", "-debug", "-port", "9000"}))

	overrides := buildOverrides(cli.NewContext(app, set, nil))
	assert.Equal(t, map[string]any{
		"log.level":   "debug",
		"app.debug":   true,
		"server.port": 9000,
	}, overrides)
}

func TestBuildOverrides_Empty(t *testing.T) {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", "", "")
	set.Bool("debug", false, "")
	require.NoError(t, set.Parse(nil))

	assert.Empty(t, buildOverrides(cli.NewContext(newApp(), set, nil)))
}

func TestQueryCommand_RequiresUser(t *testing.T) {
	_, err := runApp(t, "query", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user")
}

func TestQueryCommand_RejectsMemoryStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: memory\n"), 0o600))

	_, err := runApp(t, "--config", path, "query", "--user", "alice", "hello")
	require.ErrorIs(t, err, errEphemeralStore)
}

func TestQueryCommand_SearchesStoredRecords(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeBadgerConfig(t, dir)

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)
	comp, err := buildComponents(cfg, logger.NewNop(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = comp.hub.Memorize(ctx, "alice", "the deploy pipeline failed on staging", nil)
	require.NoError(t, err)
	_, err = comp.hub.Memorize(ctx, "alice", "lunch order for friday", nil)
	require.NoError(t, err)
	_, err = comp.hub.Memorize(ctx, "bob", "deploy notes from bob", nil)
	require.NoError(t, err)
	require.NoError(t, comp.Close())

	out, err := runApp(t, "--config", cfgPath, "query", "--user", "alice", "--json", "-k", "5", "deploy", "pipeline")
	require.NoError(t, err)

	var got queryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "deploy pipeline", got.Query)
	assert.Equal(t, "alice", got.UserID)
	require.NotEmpty(t, got.Results)
	assert.Equal(t, "the deploy pipeline failed on staging", got.Results[0].Record.Text)
	for _, res := range got.Results {
		assert.Equal(t, "alice", res.Record.UserID)
	}
	require.NotNil(t, got.Metrics)
	assert.True(t, got.Metrics.FallbackReranker)
}

func TestQueryCommand_PlainOutput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeBadgerConfig(t, dir)

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)
	comp, err := buildComponents(cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	_, err = comp.hub.Memorize(context.Background(), "alice", "rotate the api keys", nil)
	require.NoError(t, err)
	require.NoError(t, comp.Close())

	out, err := runApp(t, "--config", cfgPath, "query", "-u", "alice", "--no-rerank", "api", "keys")
	require.NoError(t, err)
	assert.Contains(t, out, "rotate the api keys")
	assert.Contains(t, out, "keyword=")

	out, err = runApp(t, "--config", cfgPath, "query", "-u", "nobody", "api")
	require.NoError(t, err)
	assert.Contains(t, out, "no results")
}
