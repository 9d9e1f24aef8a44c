package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/internal/output"
	"github.com/panbanda/embargo/pkg/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = false
	return cfg
}

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := `package main

func helper(x int) int {
	return x + 1
}

func main() {
	helper(1)
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(src), 0o644))
	return dir
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", result.Content[0])
	return text.Text
}

func TestServerCreation(t *testing.T) {
	server := NewServer("1.0.0-test", nil)
	require.NotNil(t, server)
	assert.NotNil(t, server.server)
	assert.NotNil(t, server.cfg)
	assert.NotNil(t, server.logger)

	assert.NotNil(t, NewServer("", testConfig()))
}

func TestToolDescriptions(t *testing.T) {
	descriptions := map[string]func() string{
		"dependencies": describeDependencies,
		"cacheStats":   describeCacheStats,
	}

	for name, fn := range descriptions {
		t.Run(name, func(t *testing.T) {
			desc := fn()
			assert.Contains(t, desc, "USE WHEN:")
			assert.Contains(t, desc, "INTERPRETING RESULTS:")
			assert.Contains(t, desc, "METRICS RETURNED:")
		})
	}
}

func TestGetPaths(t *testing.T) {
	assert.Equal(t, []string{"."}, getPaths(AnalyzeInput{}))
	assert.Equal(t, []string{"a", "b"}, getPaths(AnalyzeInput{Paths: []string{"a", "b"}}))
}

func TestGetFormat(t *testing.T) {
	tests := map[string]output.Format{
		"":             output.FormatTOON,
		"toon":         output.FormatTOON,
		"json":         output.FormatJSON,
		"compact":      output.FormatCompact,
		"json-compact": output.FormatCompact,
		"markdown":     output.FormatMarkdown,
		"md":           output.FormatMarkdown,
		"bogus":        output.FormatTOON,
	}
	for in, want := range tests {
		assert.Equal(t, want, getFormat(AnalyzeInput{Format: in}), "format %q", in)
	}
}

func TestToolError(t *testing.T) {
	result, meta, err := toolError("boom")
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.True(t, result.IsError)
	assert.Equal(t, "Error: boom", resultText(t, result))
}

func TestToolResult(t *testing.T) {
	result, _, err := toolResult(map[string]int{"nodes": 2}, output.FormatJSON)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"nodes": 2}`, resultText(t, result))
}

func TestHandleAnalyzeDependencies(t *testing.T) {
	dir := writeRepo(t)
	s := NewServer("test", testConfig())

	result, _, err := s.handleAnalyzeDependencies(context.Background(), nil, DependenciesInput{
		AnalyzeInput: AnalyzeInput{Paths: []string{dir}, Format: "json"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var doc struct {
		Graph struct {
			Nodes []struct {
				Name string `json:"name"`
				File string `json:"file"`
			} `json:"nodes"`
			Edges []struct {
				Type string `json:"type"`
			} `json:"edges"`
		} `json:"graph"`
		Summary struct {
			Files  int `json:"files"`
			Parsed int `json:"parsed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &doc))
	assert.Equal(t, 1, doc.Summary.Files)
	assert.Equal(t, 1, doc.Summary.Parsed)

	var names []string
	for _, n := range doc.Graph.Nodes {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "helper")
	assert.Contains(t, names, "main")

	var calls int
	for _, e := range doc.Graph.Edges {
		if e.Type == "call" {
			calls++
		}
	}
	assert.Positive(t, calls)
}

func TestHandleAnalyzeDependencies_Errors(t *testing.T) {
	s := NewServer("test", testConfig())
	ctx := context.Background()

	t.Run("bad confidence", func(t *testing.T) {
		result, _, err := s.handleAnalyzeDependencies(ctx, nil, DependenciesInput{
			AnalyzeInput:  AnalyzeInput{Paths: []string{writeRepo(t)}},
			MinConfidence: "certain",
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("unknown language", func(t *testing.T) {
		result, _, err := s.handleAnalyzeDependencies(ctx, nil, DependenciesInput{
			AnalyzeInput: AnalyzeInput{Paths: []string{writeRepo(t)}},
			Languages:    []string{"cobol"},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("no source files", func(t *testing.T) {
		result, _, err := s.handleAnalyzeDependencies(ctx, nil, DependenciesInput{
			AnalyzeInput: AnalyzeInput{Paths: []string{t.TempDir()}},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "no source files found")
	})
}

func TestHandleAnalyzeDependencies_DoesNotMutateConfig(t *testing.T) {
	cfg := testConfig()
	s := NewServer("test", cfg)
	off := false

	_, _, err := s.handleAnalyzeDependencies(context.Background(), nil, DependenciesInput{
		AnalyzeInput:  AnalyzeInput{Paths: []string{writeRepo(t)}, Format: "compact"},
		MinConfidence: "high",
		CrossLanguage: &off,
		Languages:     []string{"go"},
	})
	require.NoError(t, err)
	assert.Equal(t, "low", cfg.Core.MinCrossLanguageConfidence)
	assert.True(t, cfg.Core.EnableCrossLanguage)
	assert.Empty(t, cfg.Core.Languages)
}

func TestHandleCacheStats(t *testing.T) {
	ctx := context.Background()

	result, _, err := NewServer("test", testConfig()).handleCacheStats(ctx, nil, CacheStatsInput{})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	c, err := cache.New(cache.Options{Enabled: true, Backend: cache.BackendMemory})
	require.NoError(t, err)
	defer c.Close()

	s := NewServer("test", testConfig(), WithCache(c))
	_, _, err = s.handleAnalyzeDependencies(ctx, nil, DependenciesInput{
		AnalyzeInput: AnalyzeInput{Paths: []string{writeRepo(t)}},
	})
	require.NoError(t, err)

	result, _, err = s.handleCacheStats(ctx, nil, CacheStatsInput{})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "memory")
}

func TestParseFrontmatter(t *testing.T) {
	content := []byte("---\ndescription: Find things\narguments:\n  - name: paths\n    default: \".\"\n---\n\nBody {{paths}}\n")
	fm, body := parseFrontmatter(content)
	assert.Equal(t, "Find things", fm.Description)
	require.Len(t, fm.Arguments, 1)
	assert.Equal(t, "paths", fm.Arguments[0].Name)
	assert.Equal(t, ".", fm.Arguments[0].Default)
	assert.Equal(t, "Body {{paths}}\n", body)

	fm, body = parseFrontmatter([]byte("no frontmatter"))
	assert.Empty(t, fm.Description)
	assert.Equal(t, "no frontmatter", body)

	fm, body = parseFrontmatter([]byte("---\nunterminated"))
	assert.Empty(t, fm.Description)
	assert.Equal(t, "---\nunterminated", body)
}

func TestSubstituteArg(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		args       map[string]string
		defaultVal string
		expected   string
	}{
		{"use provided value", "trace {{route}} now", map[string]string{"route": "GET /users"}, "x", "trace GET /users now"},
		{"use default when missing", "trace {{route}} now", nil, "x", "trace x now"},
		{"use default when empty", "trace {{route}} now", map[string]string{"route": ""}, "x", "trace x now"},
		{"no placeholder unchanged", "nothing here", map[string]string{"route": "y"}, "x", "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, substituteArg(tt.text, "route", tt.args, tt.defaultVal))
		})
	}
}

func TestPromptFiles(t *testing.T) {
	entries, err := promptFiles.ReadDir("prompts")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		t.Run(entry.Name(), func(t *testing.T) {
			content, err := promptFiles.ReadFile("prompts/" + entry.Name())
			require.NoError(t, err)
			fm, body := parseFrontmatter(content)
			assert.NotEmpty(t, fm.Description)
			assert.Contains(t, body, "analyze_dependencies")
			for _, a := range fm.Arguments {
				assert.Contains(t, body, "{{"+a.Name+"}}")
			}
		})
	}
}

func TestPromptHandler(t *testing.T) {
	fm := promptFrontmatter{
		Description: "d",
		Arguments:   []promptArgument{{Name: "paths", Default: "."}, {Name: "symbol"}},
	}
	handler := makePromptHandler(fm, "impact of {{symbol}} in {{paths}}")

	result, err := handler(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: "change-impact", Arguments: map[string]string{"symbol": "GetUser"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "d", result.Description)
	require.Len(t, result.Messages, 1)
	text := result.Messages[0].Content.(*mcp.TextContent)
	assert.Equal(t, "impact of GetUser in .", text.Text)
}

func TestServerOverTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer("test", testConfig())
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"analyze_dependencies", "cache_stats"}, names)

	prompts, err := cs.ListPrompts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, prompts.Prompts, 3)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "analyze_dependencies",
		Arguments: map[string]any{"paths": []string{writeRepo(t)}, "format": "markdown"},
	})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.True(t, strings.HasPrefix(text, "# CODE_GRAPH"), text)
	assert.Contains(t, text, "## main.go (go)")
}

func TestGenerateManifest(t *testing.T) {
	data, err := GenerateManifest("1.2.3")
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "io.github.panbanda/embargo", m.Name)
	assert.Equal(t, "1.2.3", m.Version)
	require.Len(t, m.Packages, 1)
	assert.Equal(t, "ghcr.io/panbanda/embargo:1.2.3", m.Packages[0].Identifier)
	assert.Equal(t, "stdio", m.Packages[0].Transport.Type)
	assert.Equal(t, []Argument{{Type: "positional", Value: "mcp"}}, m.Packages[0].PackageArguments)
	require.Len(t, m.Packages[0].EnvironmentVariables, 1)
	assert.Equal(t, "EMBARGO_CONFIG", m.Packages[0].EnvironmentVariables[0].Name)

	data, err = GenerateManifest("")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": "0.0.0"`)
}
