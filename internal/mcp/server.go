package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragtune/ragtune/internal/config"
	"github.com/ragtune/ragtune/internal/registry"
	"github.com/ragtune/ragtune/internal/telemetry"
	"github.com/ragtune/ragtune/pkg/version"
)

// serverName identifies ragtune in the MCP handshake.
const serverName = "ragtune"

// Server bridges AI clients with a built ragtune pipeline over the Model
// Context Protocol. The server does not own the pipeline: the caller builds
// it, hands it in, and closes it after Serve returns.
type Server struct {
	mcp      *mcp.Server
	pipeline *config.Pipeline
	cfg      *config.Config
	logger   *slog.Logger

	// Run telemetry (optional, set via SetCollector).
	mu        sync.RWMutex
	collector *telemetry.Collector
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates an MCP server around a built pipeline. cfg is the
// configuration the pipeline was built from; pipeline_info renders it.
func NewServer(pipeline *config.Pipeline, cfg *config.Config) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()

	return s, nil
}

// SetCollector attaches a telemetry collector. Completed runs are observed
// into it; nil detaches.
func (s *Server) SetCollector(c *telemetry.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collector = c
}

// observe records a completed run into the collector, when one is attached.
func (s *Server) observe(rec telemetry.RunRecord) {
	s.mu.RLock()
	c := s.collector
	s.mu.RUnlock()
	if c != nil {
		c.Observe(rec)
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "rag_query",
			Description: queryToolDescription,
		},
		{
			Name:        "pipeline_info",
			Description: infoToolDescription,
		},
	}
}

const (
	queryToolDescription = "Run a query through the budget-aware retrieval pipeline. " +
		"Returns a ranked, token-bounded list of context documents plus the resource " +
		"usage of the run. Set include_trace to see every retrieval, rerank, and " +
		"budget decision the engine made."

	infoToolDescription = "Describe the active pipeline: its component wiring, " +
		"per-request budget limits, and retrieval fan-out depths. Use this to " +
		"understand what rag_query will do before calling it."
)

// registerTools registers the tool set with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: queryToolDescription,
	}, s.queryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_info",
		Description: infoToolDescription,
	}, s.pipelineInfoHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 2))
}

// pipelineInfo renders the configuration the pipeline was built from.
func (s *Server) pipelineInfo() PipelineInfoOutput {
	p := s.cfg.Pipeline

	components := make(map[string][]string, len(registry.Categories()))
	slots := map[registry.Category]config.ComponentList{
		registry.CategoryRetriever:    p.Components.Retriever,
		registry.CategoryReranker:     p.Components.Reranker,
		registry.CategoryReformulator: p.Components.Reformulator,
		registry.CategoryEstimator:    p.Components.Estimator,
		registry.CategoryScheduler:    p.Components.Scheduler,
		registry.CategoryAssembler:    p.Components.Assembler,
		registry.CategoryFeedback:     s.cfg.FeedbackSpecs(),
	}
	for category, specs := range slots {
		names := make([]string, 0, len(specs))
		for _, spec := range specs {
			names = append(names, spec.Type)
		}
		components[string(category)] = names
	}

	limits := make(map[string]float64, len(p.Budget.Limits))
	for k, v := range p.Budget.Limits {
		limits[k] = v
	}

	return PipelineInfoOutput{
		Name:       s.pipeline.Name,
		Version:    version.Version,
		Components: components,
		Budget:     limits,
		Retrieval: RetrievalInfo{
			OriginalQueryDepth:    p.Retrieval.OriginalQueryDepth,
			NumReformulations:     p.Retrieval.NumReformulations,
			DepthPerReformulation: p.Retrieval.DepthPerReformulation,
			MaxPoolSize:           p.Retrieval.MaxPoolSize,
		},
	}
}

// Serve runs the server over stdio until the context is cancelled or the
// client disconnects. stdout carries JSON-RPC exclusively; all logging goes
// to stderr or the log file.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server",
		slog.String("pipeline", s.pipeline.Name),
		slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
