package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/reviewdesk/internal/composer"
	"github.com/kalambet/reviewdesk/internal/feedback"
	"github.com/kalambet/reviewdesk/internal/relay"
	"github.com/kalambet/reviewdesk/internal/reply"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// MCPSession is the session access the MCP tools need. Both the relay and
// Client satisfy it.
type MCPSession interface {
	Load(ctx context.Context) (storage.SessionState, error)
	WriteCursor(ctx context.Context, k int) error
	CaptureSelection(ctx context.Context, text, url string) error
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session   MCPSession
	Generator reply.Generator // optional; if nil, generate_reply returns an error
	Composer  *composer.Composer
}

// recordView is the tool-facing shape of the record under the cursor.
type recordView struct {
	Position int             `json:"position"`
	Total    int             `json:"total"`
	Record   feedback.Record `json:"record"`
}

// NewMCPServer creates an MCP server exposing the feedback session.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Composer == nil {
		deps.Composer = composer.New(0)
	}

	s := server.NewMCPServer(
		"reviewdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("reviewdesk: customer reviews and mail extracted from the open page, with reply drafting."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("current_record",
			mcp.WithDescription("Return the feedback record under the session cursor with its position."),
		),
		mcpCurrentRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("navigate",
			mcp.WithDescription("Move the session cursor by delta records (negative moves back). Moves past either end leave the cursor unchanged."),
			mcp.WithNumber("delta", mcp.Description("Number of records to move"), mcp.Required()),
		),
		mcpNavigate(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_reply",
			mcp.WithDescription("Draft a reply to the feedback record under the cursor."),
		),
		mcpGenerateReply(deps),
	)

	s.AddTool(
		mcp.NewTool("capture_selection",
			mcp.WithDescription("Replace the session with a single record made from selected text."),
			mcp.WithString("text", mcp.Description("The selected text"), mcp.Required()),
			mcp.WithString("url", mcp.Description("URL of the page the text was selected on")),
		),
		mcpCaptureSelection(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://records",
			"Session Records",
			mcp.WithResourceDescription("All records of the current session and the cursor, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecords(deps),
	)

	return s
}

var errEmptySession = errors.New("the session has no records; scrape a page first")

func currentView(ctx context.Context, sess MCPSession) (recordView, error) {
	st, err := sess.Load(ctx)
	if err != nil {
		return recordView{}, fmt.Errorf("loading session: %w", err)
	}
	rec, ok := st.Current()
	if !ok {
		return recordView{}, errEmptySession
	}
	return recordView{Position: st.Cursor + 1, Total: len(st.Records), Record: rec}, nil
}

func mcpCurrentRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		v, err := currentView(ctx, deps.Session)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(v)
	}
}

func mcpNavigate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		delta, err := req.RequireInt("delta")
		if err != nil {
			return mcpError("delta is required"), nil
		}

		st, err := deps.Session.Load(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("loading session: %v", err)), nil
		}
		if st.Empty() {
			return mcpError(errEmptySession.Error()), nil
		}
		target := st.Cursor + delta
		if delta != 0 && target >= 0 && target < len(st.Records) {
			if err := deps.Session.WriteCursor(ctx, target); err != nil {
				return mcpError(fmt.Sprintf("saving cursor: %v", err)), nil
			}
			st.Cursor = target
		}
		return mcpJSON(recordView{Position: st.Cursor + 1, Total: len(st.Records), Record: st.Records[st.Cursor]})
	}
}

func mcpGenerateReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Generator == nil {
			return mcpError("reply generation not available: no reply backend configured"), nil
		}
		v, err := currentView(ctx, deps.Session)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		text, err := deps.Generator.Generate(ctx, reply.Request{
			Prompt: deps.Composer.Prompt(v.Record),
			Stars:  v.Record.Stars,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("reply generation failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpCaptureSelection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		url := req.GetString("url", "")

		if err := deps.Session.CaptureSelection(ctx, text, url); err != nil {
			if errors.Is(err, relay.ErrEmptySelection) {
				return mcpError("text must not be blank"), nil
			}
			return mcpError(fmt.Sprintf("saving selection: %v", err)), nil
		}
		return mcpText("Selection saved as the only record of the session"), nil
	}
}

func mcpResourceRecords(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := deps.Session.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		recs := st.Records
		if recs == nil {
			recs = []feedback.Record{}
		}
		b, err := json.Marshal(SessionResponse{Records: recs, Cursor: st.Cursor})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
