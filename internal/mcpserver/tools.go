package mcpserver

import (
	"bytes"
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/embargo/internal/output"
	"github.com/panbanda/embargo/internal/scanner"
	"github.com/panbanda/embargo/pkg/analyzer/graph"
	"github.com/panbanda/embargo/pkg/models"
	"github.com/panbanda/embargo/pkg/parser"
)

// AnalyzeInput is the base input for analysis tools.
type AnalyzeInput struct {
	Paths  []string `json:"paths,omitempty" jsonschema:"Paths to analyze. Defaults to current directory if empty."`
	Format string   `json:"format,omitempty" jsonschema:"Output format: toon (default), json, compact, or markdown."`
}

// DependenciesInput adds graph options.
type DependenciesInput struct {
	AnalyzeInput
	MinConfidence string   `json:"min_confidence,omitempty" jsonschema:"Hide cross-language edges below this tier: exact, high, medium or low. Defaults to the configured threshold."`
	CrossLanguage *bool    `json:"cross_language,omitempty" jsonschema:"Link call sites to exports in other languages. Defaults to the configured value."`
	Languages     []string `json:"languages,omitempty" jsonschema:"Only analyze files in these languages, e.g. go, python, typescript."`
}

// CacheStatsInput takes no options.
type CacheStatsInput struct{}

func getPaths(input AnalyzeInput) []string {
	if len(input.Paths) == 0 {
		return []string{"."}
	}
	return input.Paths
}

func getFormat(input AnalyzeInput) output.Format {
	switch input.Format {
	case "json":
		return output.FormatJSON
	case "compact", "json-compact":
		return output.FormatCompact
	case "markdown", "md":
		return output.FormatMarkdown
	default:
		return output.FormatTOON
	}
}

func formatOutput(data any, format output.Format) (string, error) {
	var buf bytes.Buffer
	if err := output.NewWriterFormatter(format, &buf, false).Output(data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toolResult(data any, format output.Format) (*mcp.CallToolResult, any, error) {
	text, err := formatOutput(data, format)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}, nil, nil
}

func (s *Server) handleAnalyzeDependencies(ctx context.Context, req *mcp.CallToolRequest, input DependenciesInput) (*mcp.CallToolResult, any, error) {
	paths := getPaths(input.AnalyzeInput)
	format := getFormat(input.AnalyzeInput)

	cfg := *s.cfg
	if input.MinConfidence != "" {
		if _, err := models.ParseConfidence(input.MinConfidence); err != nil {
			return toolError(err.Error())
		}
		cfg.Core.MinCrossLanguageConfidence = input.MinConfidence
	}
	if input.CrossLanguage != nil {
		cfg.Core.EnableCrossLanguage = *input.CrossLanguage
	}
	if len(input.Languages) > 0 {
		cfg.Core.Languages = input.Languages
	}

	registry, err := parser.DefaultRegistry(&cfg)
	if err != nil {
		return toolError(err.Error())
	}

	files, err := scanner.NewScanner(&cfg, registry.Extensions()...).ScanPaths(paths)
	if err != nil {
		return toolError(err.Error())
	}
	if len(files) == 0 {
		return toolError("no source files found")
	}

	a, err := graph.New(&cfg,
		graph.WithLogger(s.logger),
		graph.WithParsers(registry),
		graph.WithCache(s.cache),
	)
	if err != nil {
		return toolError(err.Error())
	}
	defer a.Close()

	result, err := a.Analyze(ctx, files)
	if err != nil {
		return toolError(err.Error())
	}

	return toolResult(&output.GraphReport{
		Result:   result,
		Filtered: true,
		Root:     output.ReportRoot(paths),
	}, format)
}

func (s *Server) handleCacheStats(ctx context.Context, req *mcp.CallToolRequest, input CacheStatsInput) (*mcp.CallToolResult, any, error) {
	if s.cache == nil {
		return toolError("parse cache is disabled")
	}
	stats, err := s.cache.Stats()
	if err != nil {
		return toolError(err.Error())
	}
	return toolResult(&output.CacheStatsView{Stats: stats}, output.FormatTOON)
}
