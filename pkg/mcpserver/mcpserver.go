// Package mcpserver exposes the disease catalog and the medical assistant as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/disease"
)

// Deps are the collaborators behind the tools.
type Deps struct {
	Querier disease.Querier

	// NewConversation creates the conversation used for one ask_medical_assistant
	// call. When nil the tool is not registered.
	NewConversation func() *conversation.Conversation

	Logger  *zap.Logger
	Version string
}

// SearchInput are the arguments of search_diseases.
type SearchInput struct {
	Query  string `json:"query,omitempty" jsonschema:"case-insensitive substring of the disease name; empty matches all"`
	SortBy string `json:"sort_by,omitempty" jsonschema:"sort key: name or created_at"`
	Order  string `json:"order,omitempty" jsonschema:"sort direction: asc or desc"`
}

// Disease is a catalog record as returned by the tools.
type Disease struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	CreatedAt string `json:"created_at"`
}

// SearchOutput is the result of search_diseases.
type SearchOutput struct {
	Count    int       `json:"count"`
	Diseases []Disease `json:"diseases"`
}

// AskInput are the arguments of ask_medical_assistant.
type AskInput struct {
	Question string `json:"question" jsonschema:"a question about a medical condition or disease or diagnosis or treatment"`
}

// AskOutput is the result of ask_medical_assistant.
type AskOutput struct {
	Answer string `json:"answer"`
	Failed bool   `json:"failed"`
}

type tools struct {
	deps Deps
}

// New builds an MCP server with the medfit tools registered.
func New(deps Deps) *mcp.Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	t := &tools{deps: deps}

	server := mcp.NewServer(&mcp.Implementation{Name: "medfit", Version: deps.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_diseases",
		Description: "Search the MedFit disease catalog by name and return diagnosis and treatment details.",
	}, t.searchDiseases)

	if deps.NewConversation != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "ask_medical_assistant",
			Description: "Ask the MedFit assistant a question about medical conditions, diseases, diagnoses or treatments.",
		}, t.askAssistant)
	}

	return server
}

// HTTPHandler serves the MCP server over streamable HTTP.
func HTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// RunStdio serves the MCP server over stdin/stdout until ctx is done or the client disconnects.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (t *tools) searchDiseases(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	sortBy, err := disease.ParseSortKey(in.SortBy)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	order, err := disease.ParseDirection(in.Order)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	records, err := t.deps.Querier.Query(ctx, disease.Criteria{Term: in.Query, SortBy: sortBy, Direction: order})
	if err != nil {
		t.deps.Logger.Error("mcp search failed", zap.String("query", in.Query), zap.Error(err))
		return nil, SearchOutput{}, fmt.Errorf("search diseases: %w", err)
	}

	out := SearchOutput{Count: len(records), Diseases: make([]Disease, 0, len(records))}
	for _, r := range records {
		out.Diseases = append(out.Diseases, Disease{
			ID:        r.ID,
			Name:      r.Name,
			Diagnosis: r.Diagnosis,
			Treatment: r.Treatment,
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	t.deps.Logger.Debug("mcp search", zap.String("query", in.Query), zap.Int("count", out.Count))
	return nil, out, nil
}

func (t *tools) askAssistant(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	conv := t.deps.NewConversation()
	reply, err := conv.Ask(ctx, in.Question)
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{Answer: reply.Content, Failed: reply.Failed}, nil
}
