package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/embargo/internal/testutil"
)

func testApp(stdout io.Writer) *cli.App {
	app := newApp()
	app.Writer = stdout
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

type analyzeDoc struct {
	Graph struct {
		Nodes []struct {
			Name     string `json:"name"`
			Language string `json:"language"`
		} `json:"nodes"`
	} `json:"graph"`
	Summary struct {
		Files  int `json:"files"`
		Parsed int `json:"parsed"`
	} `json:"summary"`
}

func runAnalyze(t *testing.T, args ...string) analyzeDoc {
	t.Helper()
	out := filepath.Join(t.TempDir(), "graph.json")
	argv := append([]string{"embargo", "--no-cache", "-f", "json", "-o", out, "analyze"}, args...)
	require.NoError(t, testApp(io.Discard).Run(argv))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc analyzeDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestGlobalFlags(t *testing.T) {
	names := make(map[string]bool)
	for _, f := range globalFlags() {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{"config", "c", "format", "f", "output", "o", "no-cache", "verbose", "pprof"} {
		assert.True(t, names[want], "missing flag %q", want)
	}
}

func TestCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"analyze", "cache", "config", "mcp"}, names)
}

func TestAnalyzeCommandE2E(t *testing.T) {
	dir := testutil.ServiceRepo(t)
	doc := runAnalyze(t, dir)

	assert.Equal(t, 2, doc.Summary.Files)
	assert.Equal(t, 2, doc.Summary.Parsed)

	langs := make(map[string]bool)
	for _, n := range doc.Graph.Nodes {
		langs[n.Language] = true
	}
	assert.True(t, langs["go"])
	assert.True(t, langs["python"])
}

func TestAnalyzeCommandLanguages(t *testing.T) {
	dir := testutil.ServiceRepo(t)
	doc := runAnalyze(t, "--languages", "python", dir)

	assert.Equal(t, 1, doc.Summary.Parsed)
	for _, n := range doc.Graph.Nodes {
		assert.Equal(t, "python", n.Language)
	}
}

func TestAnalyzeCommandInvalidConfidence(t *testing.T) {
	dir := testutil.ServiceRepo(t)
	err := testApp(io.Discard).Run([]string{"embargo", "--no-cache", "analyze", "--min-confidence", "certain", dir})
	assert.Error(t, err)
}

func TestAnalyzeCommandNoFiles(t *testing.T) {
	err := testApp(io.Discard).Run([]string{"embargo", "--no-cache", "analyze", t.TempDir()})
	assert.NoError(t, err)
}

func TestAnalyzeCommandWatchArguments(t *testing.T) {
	dir := testutil.ServiceRepo(t)

	err := testApp(io.Discard).Run([]string{"embargo", "--no-cache", "analyze", "--watch",
		filepath.Join(dir, "api"), filepath.Join(dir, "web")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single directory")

	err = testApp(io.Discard).Run([]string{"embargo", "--no-cache", "analyze", "--watch",
		filepath.Join(dir, "api", "server.go")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a directory")
}

func TestAnalyzeCommandWatchRejectsRemote(t *testing.T) {
	err := testApp(io.Discard).Run([]string{"embargo", "--no-cache", "analyze", "--watch", "owner/repo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local directory")
}

func TestAnalyzeCommandRemote(t *testing.T) {
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available for local clones")
	}
	origin := testutil.GitRepo(t, testutil.ServiceFiles)

	doc := runAnalyze(t, "--shallow=false", "file://"+filepath.ToSlash(origin)+"@master")
	assert.Equal(t, 2, doc.Summary.Files)
	assert.Equal(t, 2, doc.Summary.Parsed)
}

func TestCloneRemotesKeepsLocalPaths(t *testing.T) {
	dir := t.TempDir()
	app := newApp()
	var resolved []string
	for _, cmd := range app.Commands {
		if cmd.Name != "analyze" {
			continue
		}
		cmd.Action = func(c *cli.Context) error {
			paths, cleanup, err := cloneRemotes(c.Context, c, getPaths(c))
			defer cleanup()
			resolved = paths
			return err
		}
	}
	app.Writer, app.ErrWriter = io.Discard, io.Discard

	require.NoError(t, app.Run([]string{"embargo", "analyze", dir}))
	assert.Equal(t, []string{dir}, resolved)
}

func TestAnalyzeCommandMarkdown(t *testing.T) {
	dir := testutil.ServiceRepo(t)
	out := filepath.Join(t.TempDir(), "graph.md")
	require.NoError(t, testApp(io.Discard).Run([]string{"embargo", "--no-cache", "-f", "markdown", "-o", out, "analyze", dir}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# CODE_GRAPH\n"))
	assert.Contains(t, string(data), "## api/server.go (go)")
	assert.Contains(t, string(data), "## web/client.py (python)")
}

func TestApplyAnalyzeFlags(t *testing.T) {
	app := newApp()
	var checked bool
	for _, cmd := range app.Commands {
		if cmd.Name != "analyze" {
			continue
		}
		cmd.Action = func(c *cli.Context) error {
			cfg, _, err := loadConfig(c)
			require.NoError(t, err)
			applyAnalyzeFlags(c, cfg)

			assert.Equal(t, []string{"go", "rust"}, cfg.Core.Languages)
			assert.Equal(t, "high", cfg.Core.MinCrossLanguageConfidence)
			assert.False(t, cfg.Core.EnableCrossLanguage)
			assert.Equal(t, 8, cfg.Analysis.Workers)
			assert.Equal(t, "2m0s", cfg.Analysis.Deadline.String())
			assert.Equal(t, "badger", cfg.Cache.Backend)
			assert.False(t, cfg.Cache.Enabled)
			checked = true
			return nil
		}
	}
	app.Writer, app.ErrWriter = io.Discard, io.Discard

	require.NoError(t, app.Run([]string{"embargo", "--no-cache", "analyze",
		"--languages", "go,rust", "--min-confidence", "high", "--no-cross-language",
		"--workers", "8", "--deadline", "2m", "--cache-backend", "badger"}))
	assert.True(t, checked)
}

func TestConfigShow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testApp(&buf).Run([]string{"embargo", "-c", writeConfig(t), "config", "show"}))

	out := buf.String()
	assert.Contains(t, out, "# Configuration from:")
	assert.Contains(t, out, "[core]")
	assert.Contains(t, out, `min_cross_language_confidence = "medium"`)
	assert.Contains(t, out, "[cache]")
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embargo.toml")
	content := `[core]
min_cross_language_confidence = "medium"

[cache]
backend = "memory"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testApp(io.Discard).Run([]string{"embargo", "-c", writeConfig(t), "config", "validate"}))

	bad := filepath.Join(t.TempDir(), "embargo.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[core]\nmin_cross_language_confidence = \"certain\"\n"), 0o644))
	assert.Error(t, testApp(io.Discard).Run([]string{"embargo", "-c", bad, "config", "validate"}))

	parsers := filepath.Join(t.TempDir(), "embargo.toml")
	require.NoError(t, os.WriteFile(parsers, []byte("[[parsers]]\nlanguage = \"cobol\"\nextensions = [\".cbl\"]\n"), 0o644))
	assert.Error(t, testApp(io.Discard).Run([]string{"embargo", "-c", parsers, "config", "validate"}))
}

func TestCacheStats(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, testApp(io.Discard).Run([]string{"embargo", "-c", writeConfig(t), "-f", "json", "-o", out, "cache", "stats"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, "memory", stats["backend"])
}

func TestCacheClear(t *testing.T) {
	assert.NoError(t, testApp(io.Discard).Run([]string{"embargo", "-c", writeConfig(t), "cache", "clear"}))

	disabled := filepath.Join(t.TempDir(), "embargo.toml")
	require.NoError(t, os.WriteFile(disabled, []byte("[cache]\nenabled = false\n"), 0o644))
	assert.Error(t, testApp(io.Discard).Run([]string{"embargo", "-c", disabled, "cache", "clear"}))
}

func TestMCPManifest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testApp(&buf).Run([]string{"embargo", "mcp", "manifest"}))
	assert.Contains(t, buf.String(), `"io.github.panbanda/embargo"`)
}

func TestVersionVariable(t *testing.T) {
	assert.NotEmpty(t, version)
}
