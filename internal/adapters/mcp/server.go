package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

const Version = "0.1.0"

// Server exposes answering and retrieval status as MCP tools over stdio.
type Server struct {
	answers ports.AnswerService
	status  ports.StatusReporter
	server  *server.MCPServer
}

func NewServer(answers ports.AnswerService, status ports.StatusReporter) (*Server, error) {
	if answers == nil || status == nil {
		return nil, errors.New("mcp server requires answer and status services")
	}
	s := &Server{
		answers: answers,
		status:  status,
		server:  server.NewMCPServer("policy-rag", Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("answer_question",
		mcp.WithDescription("Answer a question from the policy corpus with citations, or abstain when the evidence is weak."),
		mcp.WithString("question", mcp.Required(), mcp.Description("natural-language question")),
		mcp.WithNumber("top_k", mcp.Description("number of evidence chunks to consider (1-50)")),
	), s.handleAnswer)

	s.server.AddTool(mcp.NewTool("retrieval_status",
		mcp.WithDescription("Report retrieval mode, drift between the dense index and the corpus, and generation backend status."),
	), s.handleStatus)
}

// Run serves stdio until ctx is done or the input stream closes.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.server).Listen(ctx, in, out)
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.answers.Answer(ctx, domain.QueryRequest{
		Question: question,
		TopK:     req.GetInt("top_k", 0),
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) || domain.IsKind(err, domain.ErrSaturated) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, err
	}
	return jsonResult(result)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status.Status(ctx))
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
