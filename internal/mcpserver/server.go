// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the assistance records to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/assistenze/internal/apperr"
	"github.com/starford/assistenze/internal/models"
)

// ContractURI identifies the record format resource.
const ContractURI = "assistenze://record-format"

// Records is the record store used by the tools.
type Records interface {
	Create(ctx context.Context, r models.Record) (models.Record, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
	Get(ctx context.Context, id string) (models.Record, string, error)
}

// Server wraps the MCP server with the record tools.
type Server struct {
	mcp     *server.MCPServer
	records Records
}

// New creates a new MCP server with all tools registered.
func New(records Records, version string) *Server {
	s := &Server{records: records}

	s.mcp = server.NewMCPServer(
		"Assistenze",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List assistance records in insertion order, optionally filtered."),
		mcp.WithString("technician", mcp.Description("Exact technician name")),
		mcp.WithString("query", mcp.Description("Case-insensitive text searched in every field")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read a single assistance record by identifier."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record identifier (_id)")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("submit_record",
		mcp.WithDescription("Save a new assistance record. Times are HH:MM (24h) on the same day; "+
			"the duration is computed by the server. Read the contract first via the "+
			"get_record_contract tool or the "+ContractURI+" resource."),
		mcp.WithString("clientName", mcp.Required(), mcp.Description("Client name")),
		mcp.WithString("technician", mcp.Required(), mcp.Description("Technician who handled the request")),
		mcp.WithString("startTime", mcp.Required(), mcp.Description("Start time, HH:MM")),
		mcp.WithString("endTime", mcp.Required(), mcp.Description("End time, HH:MM, after startTime")),
		mcp.WithString("compiledBy", mcp.Description("Who filled in the record")),
		mcp.WithString("clientGroup", mcp.Description("Client group")),
		mcp.WithString("orderNumber", mcp.Description("Order number")),
		mcp.WithString("requestSource", mcp.Description("Channel of the request (phone, e-mail, ...)")),
		mcp.WithString("requestedFrom", mcp.Description("Person who asked for assistance")),
		mcp.WithString("requestDate", mcp.Description("Date of the request, YYYY-MM-DD")),
		mcp.WithString("time", mcp.Description("Time-of-day category")),
		mcp.WithString("topic", mcp.Description("Topic or category")),
		mcp.WithString("description", mcp.Description("Free-text description of the work done")),
	), s.submitRecord)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the assistance record format contract. "+
			"Call this before submitting records to ensure correct fields."),
	), s.getRecordContract)

	s.mcp.AddResource(
		mcp.NewResource(ContractURI, "Record Format Contract",
			mcp.WithResourceDescription("Fields and validation rules of an assistance record."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(apperr.Message(err, err.Error()))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.RecordFilter{
		Technician: req.GetString("technician", ""),
		Query:      req.GetString("query", ""),
	}
	records, err := s.records.List(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(records)
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, _, err := s.records.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(rec)
}

func (s *Server) submitRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rec models.Record
	required := []struct {
		name string
		dst  *string
	}{
		{"clientName", &rec.ClientName},
		{"technician", &rec.Technician},
		{"startTime", &rec.StartTime},
		{"endTime", &rec.EndTime},
	}
	for _, f := range required {
		v, err := req.RequireString(f.name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		*f.dst = v
	}
	rec.CompiledBy = req.GetString("compiledBy", "")
	rec.ClientGroup = req.GetString("clientGroup", "")
	rec.OrderNumber = req.GetString("orderNumber", "")
	rec.RequestSource = req.GetString("requestSource", "")
	rec.RequestedFrom = req.GetString("requestedFrom", "")
	rec.RequestDate = req.GetString("requestDate", "")
	rec.TimeSlot = req.GetString("time", "")
	rec.Topic = req.GetString("topic", "")
	rec.Description = req.GetString("description", "")

	created, err := s.records.Create(ctx, rec)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (%d min)", created.ID, int(*created.Duration))), nil
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ContractURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
