// Package mcp exposes patient queries and the pure scoring and report
// components as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

// Server represents the RadProgressor MCP server
type Server struct {
	mcpServer *mcp.Server
	tools     *Tools
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers every tool.
func NewServer(config domain.MCPConfig, tools *Tools, logger *logrus.Logger) *Server {
	name := config.ServerName
	if name == "" {
		name = "radprogressor"
	}
	version := config.ServerVersion
	if version == "" {
		version = "v0.1.0"
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		tools:     tools,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Start runs the server on stdio until ctx is cancelled or the client leaves.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting RadProgressor MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	addTool(s, "get_patient_timeline",
		"Chronological progression timeline for a patient: date, score, key labels and report change per study.",
		s.tools.PatientTimeline)
	addTool(s, "get_patient_snapshot",
		"Latest study for a patient with a trend summary over the whole timeline.",
		s.tools.PatientSnapshot)
	addTool(s, "compute_progression_score",
		"Compute alpha*severity + beta*normalized(delta), clamped to [0,1].",
		s.tools.ProgressionScore)
	addTool(s, "extract_report_sections",
		"Extract the FINDINGS and IMPRESSION sections from a radiology report.",
		s.tools.ReportSections)
	addTool(s, "classify_report_change",
		"Classify a radiology report as improved, stable or worsened.",
		s.tools.ReportChange)

	s.logger.WithField("tool_count", 5).Debug("Registered MCP tools")
}

// addTool adapts fn to the SDK. Results are returned as JSON text and
// failures as tool errors carrying the pipeline error code.
func addTool[In, Out any](s *Server, name, description string, fn func(context.Context, In) (Out, error)) {
	tool := &mcp.Tool{Name: name, Description: description}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		log := s.logger.WithField("tool", name)
		log.Debug("Handling MCP tool call")

		out, err := fn(ctx, in)
		if err != nil {
			log.WithError(err).Warn("MCP tool call failed")
			res, encErr := toolResult(errorPayload(err), true)
			return res, nil, encErr
		}
		res, err := toolResult(out, false)
		return res, nil, err
	})
}

func errorPayload(err error) *domain.PipelineError {
	return domain.AsPipelineError(err, "")
}

func toolResult(v interface{}, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		IsError: isError,
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}
