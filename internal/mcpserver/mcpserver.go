package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/embargo/internal/cache"
	"github.com/panbanda/embargo/pkg/config"
)

// Server wraps the MCP server and registers the dependency graph tools.
type Server struct {
	server *mcp.Server
	cfg    *config.Config
	cache  *cache.Cache
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger passed to every analysis run.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCache shares a parse cache across tool calls. The caller owns it.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// NewServer creates a new MCP server with all embargo tools registered.
// A nil cfg means config.DefaultConfig.
func NewServer(version string, cfg *config.Config, opts ...Option) *Server {
	if version == "" {
		version = "dev"
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "embargo",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server: server,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run starts the MCP server over stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze_dependencies",
		Description: describeDependencies(),
	}, s.handleAnalyzeDependencies)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cache_stats",
		Description: describeCacheStats(),
	}, s.handleCacheStats)
}
