package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/recordservice"
	"github.com/starford/assistenze/internal/testutil"
	"github.com/starford/assistenze/internal/timewindow"
)

func testServer(t *testing.T) (*Server, *recordservice.Service) {
	t.Helper()
	svc := recordservice.NewService(testutil.Records(t))
	return New(svc, "test"), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_records":
		result, err = srv.listRecords(ctx, req)
	case "get_record":
		result, err = srv.getRecord(ctx, req)
	case "submit_record":
		result, err = srv.submitRecord(ctx, req)
	case "get_record_contract":
		result, err = srv.getRecordContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSubmitAndListRecords(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "submit_record", map[string]any{
		"clientName": "Acme",
		"technician": "AC",
		"startTime":  "09:00",
		"endTime":    "10:30",
		"topic":      "Rete",
	})
	if r.IsError {
		t.Fatalf("submit failed: %s", resultText(r))
	}
	if text := resultText(r); !strings.Contains(text, "(90 min)") {
		t.Errorf("submit result = %q", text)
	}

	r = callTool(t, srv, "list_records", map[string]any{"technician": "AC"})
	var records []models.Record
	if err := json.Unmarshal([]byte(resultText(r)), &records); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(records) != 1 || records[0].Topic != "Rete" || *records[0].Duration != 90 {
		t.Errorf("records = %+v", records)
	}

	r = callTool(t, srv, "get_record", map[string]any{"id": records[0].ID})
	if r.IsError || !strings.Contains(resultText(r), `"clientName": "Acme"`) {
		t.Errorf("get_record = %q", resultText(r))
	}
}

func TestSubmitRecordValidation(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "submit_record", map[string]any{
		"clientName": "Acme", "technician": "AC", "startTime": "10:00", "endTime": "09:00",
	})
	if !r.IsError || resultText(r) != timewindow.MsgEndBefore {
		t.Errorf("result = %q (error %v)", resultText(r), r.IsError)
	}

	r = callTool(t, srv, "submit_record", map[string]any{"clientName": "Acme"})
	if !r.IsError {
		t.Error("expected error for missing required arguments")
	}

	list, _ := svc.List(context.Background(), models.RecordFilter{})
	if len(list) != 0 {
		t.Errorf("invalid submissions stored %d records", len(list))
	}
}

func TestGetRecordMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_record", map[string]any{"id": "nope"})
	if !r.IsError || resultText(r) != recordservice.MsgRecordNotFound {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestRecordContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_record_contract", nil)
	if !strings.Contains(resultText(r), "startTime") {
		t.Error("contract does not describe startTime")
	}

	contents, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != ContractURI {
		t.Errorf("resource contents = %+v", contents[0])
	}
}
