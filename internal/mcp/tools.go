package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragtune/ragtune/internal/telemetry"
	"github.com/ragtune/ragtune/pkg/ragtune"
)

// QueryInput defines the input schema for the rag_query tool.
type QueryInput struct {
	Query        string `json:"query" jsonschema:"the question or search query to run through the pipeline"`
	MaxDocuments int    `json:"max_documents,omitempty" jsonschema:"maximum number of documents to return, default all assembled"`
	IncludeTrace bool   `json:"include_trace,omitempty" jsonschema:"include the full decision trace in the response"`
}

// QueryOutput defines the output schema for the rag_query tool.
type QueryOutput struct {
	QueryID    string             `json:"query_id" jsonschema:"unique id of this run, correlates with the pipeline log"`
	Documents  []DocumentOutput   `json:"documents" jsonschema:"ranked, token-bounded context documents"`
	Rounds     int                `json:"rounds" jsonschema:"rerank rounds the controller executed"`
	ExitReason string             `json:"exit_reason" jsonschema:"why the decision loop stopped"`
	BudgetUsed map[string]float64 `json:"budget_used,omitempty" jsonschema:"resource usage at termination"`
	Trace      []TraceEventOutput `json:"trace,omitempty" jsonschema:"decision trace, present when include_trace is set"`
}

// DocumentOutput is one ranked document in a rag_query response.
type DocumentOutput struct {
	ID       string         `json:"id" jsonschema:"stable document identifier"`
	Content  string         `json:"content" jsonschema:"document text"`
	Score    float64        `json:"score" jsonschema:"final score at termination"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"retrieval metadata carried from the backend"`
}

// TraceEventOutput is one decision trace event.
type TraceEventOutput struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component" jsonschema:"engine component that acted"`
	Action    string         `json:"action" jsonschema:"what happened"`
	Details   map[string]any `json:"details,omitempty"`
}

// PipelineInfoInput defines the (empty) input schema for pipeline_info.
type PipelineInfoInput struct{}

// PipelineInfoOutput defines the output schema for the pipeline_info tool.
type PipelineInfoOutput struct {
	Name       string              `json:"name" jsonschema:"pipeline name from the config"`
	Version    string              `json:"version" jsonschema:"ragtune version"`
	Components map[string][]string `json:"components" jsonschema:"component type names per pipeline slot"`
	Budget     map[string]float64  `json:"budget" jsonschema:"per-request resource limits"`
	Retrieval  RetrievalInfo       `json:"retrieval" jsonschema:"retrieval fan-out depths"`
}

// RetrievalInfo describes the controller's fan-out configuration.
type RetrievalInfo struct {
	OriginalQueryDepth    int `json:"original_query_depth"`
	NumReformulations     int `json:"num_reformulations"`
	DepthPerReformulation int `json:"depth_per_reformulation"`
	MaxPoolSize           int `json:"max_pool_size,omitempty"`
}

// queryHandler is the MCP SDK handler for the rag_query tool.
func (s *Server) queryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if input.MaxDocuments < 0 {
		return nil, QueryOutput{}, NewInvalidParamsError("max_documents must be >= 0")
	}

	started := time.Now()
	out, err := s.pipeline.Run(ctx, input.Query)
	if err != nil {
		s.logger.Error("rag_query failed",
			slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}
	took := time.Since(started)

	rec := telemetry.FromOutput(out, s.pipeline.Name, took)
	s.observe(rec)

	s.logger.Info("rag_query complete",
		slog.String("query_id", out.QueryID),
		slog.Int("documents", len(out.Documents)),
		slog.Int("rounds", rec.Rounds),
		slog.String("exit_reason", rec.ExitReason),
		slog.Duration("took", took))

	return nil, toQueryOutput(out, rec, input), nil
}

// pipelineInfoHandler is the MCP SDK handler for the pipeline_info tool.
func (s *Server) pipelineInfoHandler(_ context.Context, _ *mcp.CallToolRequest, _ PipelineInfoInput) (
	*mcp.CallToolResult,
	PipelineInfoOutput,
	error,
) {
	return nil, s.pipelineInfo(), nil
}

// toQueryOutput shapes a controller output for the wire, applying the
// caller's document cap and trace preference.
func toQueryOutput(out *ragtune.Output, rec telemetry.RunRecord, input QueryInput) QueryOutput {
	docs := out.Documents
	if input.MaxDocuments > 0 && len(docs) > input.MaxDocuments {
		docs = docs[:input.MaxDocuments]
	}

	qo := QueryOutput{
		QueryID:    out.QueryID,
		Documents:  make([]DocumentOutput, 0, len(docs)),
		Rounds:     rec.Rounds,
		ExitReason: rec.ExitReason,
		BudgetUsed: out.FinalBudgetState,
	}
	for _, d := range docs {
		qo.Documents = append(qo.Documents, DocumentOutput{
			ID:       d.ID,
			Content:  d.Content,
			Score:    d.Score,
			Metadata: d.Metadata,
		})
	}

	if input.IncludeTrace {
		qo.Trace = make([]TraceEventOutput, 0, len(out.Trace))
		for _, ev := range out.Trace {
			qo.Trace = append(qo.Trace, TraceEventOutput{
				Timestamp: ev.Timestamp,
				Component: ev.Component,
				Action:    ev.Action,
				Details:   ev.Details,
			})
		}
	}
	return qo
}
