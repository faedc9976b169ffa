package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/reviewdesk/internal/reply"
	"github.com/kalambet/reviewdesk/internal/storage"
)

// --- mocks ---

type mockGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	last     reply.Request
}

func (m *mockGenerator) Generate(_ context.Context, req reply.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = req
	return m.response, m.err
}

// --- helpers ---

func newTestMCPDeps(t *testing.T, seeded bool) (MCPDeps, *storage.Store, *mockGenerator) {
	t.Helper()
	r, store := startRelay(t, &fakeAgents{})
	if seeded {
		if err := store.ReplaceRecords(context.Background(), sampleRecords()); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	gen := &mockGenerator{response: "Thanks for the kind words!"}
	return MCPDeps{Session: r, Generator: gen}, store, gen
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	return result
}

func decodeView(t *testing.T, result *mcp.CallToolResult) recordView {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var v recordView
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return v
}

// --- tests ---

func TestMCPTool_CurrentRecord(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)
	v := decodeView(t, callTool(t, mcpCurrentRecord(deps), "current_record", nil))
	if v.Position != 1 || v.Total != 2 || v.Record.Author != "Alice" {
		t.Fatalf("view = %+v", v)
	}
}

func TestMCPTool_CurrentRecord_EmptySession(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, false)
	result := callTool(t, mcpCurrentRecord(deps), "current_record", nil)
	if !result.IsError || !strings.Contains(toolText(t, result), "no records") {
		t.Fatalf("expected empty-session error, got %s", toolText(t, result))
	}
}

func TestMCPTool_Navigate(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t, true)
	h := mcpNavigate(deps)

	v := decodeView(t, callTool(t, h, "navigate", map[string]interface{}{"delta": 1}))
	if v.Position != 2 || v.Record.Author != "Bob" {
		t.Fatalf("after +1: %+v", v)
	}
	st, _ := store.Load(context.Background())
	if st.Cursor != 1 {
		t.Fatalf("persisted cursor = %d, want 1", st.Cursor)
	}

	// Past the end: unchanged.
	v = decodeView(t, callTool(t, h, "navigate", map[string]interface{}{"delta": 1}))
	if v.Position != 2 {
		t.Errorf("boundary move changed position to %d", v.Position)
	}

	v = decodeView(t, callTool(t, h, "navigate", map[string]interface{}{"delta": -1}))
	if v.Position != 1 || v.Record.Author != "Alice" {
		t.Errorf("after -1: %+v", v)
	}

	if result := callTool(t, h, "navigate", nil); !result.IsError {
		t.Error("missing delta should be an error")
	}
}

func TestMCPTool_GenerateReply(t *testing.T) {
	deps, _, gen := newTestMCPDeps(t, true)
	result := callTool(t, mcpGenerateReply(deps), "generate_reply", nil)
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if toolText(t, result) != "Thanks for the kind words!" {
		t.Errorf("reply = %q", toolText(t, result))
	}
	if gen.last.Stars != 5 || !strings.HasPrefix(gen.last.Prompt, "Author: Alice\n") {
		t.Errorf("request = %+v", gen.last)
	}
}

func TestMCPTool_GenerateReply_Failures(t *testing.T) {
	deps, _, gen := newTestMCPDeps(t, true)
	gen.err = &reply.ServiceError{Backend: "http", Status: 503, Message: "model is loading"}
	result := callTool(t, mcpGenerateReply(deps), "generate_reply", nil)
	if !result.IsError || !strings.Contains(toolText(t, result), "model is loading") {
		t.Errorf("got %q", toolText(t, result))
	}

	deps.Generator = nil
	if result := callTool(t, mcpGenerateReply(deps), "generate_reply", nil); !result.IsError {
		t.Error("missing generator should be an error")
	}
}

func TestMCPTool_CaptureSelection(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t, true)
	h := mcpCaptureSelection(deps)

	if result := callTool(t, h, "capture_selection", map[string]interface{}{"text": "   "}); !result.IsError {
		t.Error("blank selection should be an error")
	}

	result := callTool(t, h, "capture_selection", map[string]interface{}{
		"text": "The sync button does nothing",
		"url":  "https://forum.example.com/t/42",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Records) != 1 || st.Records[0].URL != "https://forum.example.com/t/42" || st.Cursor != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestMCPResource_Records(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)
	contents, err := mcpResourceRecords(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "session://records"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var sess SessionResponse
	if err := json.Unmarshal([]byte(tc.Text), &sess); err != nil {
		t.Fatalf("failed to parse session JSON: %v", err)
	}
	if len(sess.Records) != 2 || sess.Cursor != 0 {
		t.Errorf("session = %+v", sess)
	}
}

type failingSession struct{ MCPSession }

func (failingSession) Load(context.Context) (storage.SessionState, error) {
	return storage.SessionState{}, errors.New("database is locked")
}

func TestMCPResource_LoadFailure(t *testing.T) {
	deps := MCPDeps{Session: failingSession{}}
	_, err := mcpResourceRecords(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "session://records"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, true)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
