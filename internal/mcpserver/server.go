// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes carenotes tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/models"
	"github.com/starford/carenotes/internal/noteservice"
	"github.com/starford/carenotes/internal/parser"
)

const (
	contractURI  = "carenotes://note-format"
	excerptRunes = 120
	scopeMine    = "mine"
	scopeAll     = "all"
	defaultLimit = 20
)

// Server wraps the MCP server with carenotes tools. Every tool acts as one
// fixed principal.
type Server struct {
	mcp  *server.MCPServer
	svc  *noteservice.Service
	user models.Principal
}

// New creates a new MCP server with all carenotes tools registered.
func New(svc *noteservice.Service, user models.Principal) *Server {
	s := &Server{svc: svc, user: user}

	s.mcp = server.NewMCPServer(
		"carenotes",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	scope := mcp.WithString("scope",
		mcp.Description("mine (default) lists only your notes, all adds notes shared by others"),
		mcp.Enum(scopeMine, scopeAll),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes newest first, optionally filtered by tag."),
		scope,
		mcp.WithString("tag", mcp.Description("Only notes carrying this exact tag")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 20)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Ranked full-text search through note content and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		scope,
		mcp.WithString("tag", mcp.Description("Only notes carrying this exact tag")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content and metadata of a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new note. Content MUST follow the note format "+
			"contract; read it first via get_note_contract or the "+contractURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown body")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Labels")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content and/or tags of one of your notes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("New labels, replacing the old ones")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("star_note",
		mcp.WithDescription("Star or unstar one of your notes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithBoolean("starred", mcp.Description("false to unstar (default true)")),
	), s.starNote)

	s.mcp.AddTool(mcp.NewTool("share_note",
		mcp.WithDescription("Publish one of your notes under an unguessable link, or revoke it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithBoolean("shared", mcp.Description("false to revoke the link (default true)")),
	), s.shareNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete one of your notes together with its attachments."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("list_attachments",
		mcp.WithDescription("List attachments of the given notes."),
		mcp.WithArray("note_ids", mcp.Required(), mcp.WithStringItems(), mcp.Description("Note ids")),
	), s.listAttachments)

	s.mcp.AddTool(mcp.NewTool("attach_file",
		mcp.WithDescription("Attach an image or PDF to one of your notes. "+
			"The source is an http(s) URL or a base64 data: URI."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note to attach to")),
		mcp.WithString("source", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
		mcp.WithString("name", mcp.Description("File name; derived from the source when omitted")),
	), s.attachFile)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the carenotes note format contract. "+
			"Call this before creating or updating notes."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format Contract",
			mcp.WithResourceDescription("How notes written through these tools must look."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

// decode unmarshals tool arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports a service failure to the model without leaking whether
// someone else's note exists.
func toolError(err error) *mcp.CallToolResult {
	var ae *apperr.Error
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.As(err, &ae) && ae.Kind == apperr.KindValidation:
		return mcp.NewToolResultError(apperr.UserMessage(err))
	}
	return mcp.NewToolResultError(err.Error())
}

type noteItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Tags      []string  `json:"tags"`
	IsStarred bool      `json:"is_starred"`
	Shared    bool      `json:"shared"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

func toItems(notes []models.Note) []noteItem {
	items := make([]noteItem, 0, len(notes))
	for _, n := range notes {
		title, excerpt := parser.Summarize(n.Content, excerptRunes)
		if n.Title != "" {
			title = n.Title
		}
		items = append(items, noteItem{
			ID:        n.ID,
			Title:     title,
			Excerpt:   excerpt,
			Tags:      n.Tags,
			IsStarred: n.IsStarred,
			Shared:    n.Shared,
			Owner:     n.Owner,
			CreatedAt: n.CreatedAt,
		})
	}
	return items
}

type listArgs struct {
	Query string `json:"query"`
	Scope string `json:"scope"`
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

func (s *Server) list(ctx context.Context, a listArgs) (*mcp.CallToolResult, error) {
	params := noteservice.ListParams{Term: a.Query, Tag: a.Tag, Limit: a.Limit}
	switch a.Scope {
	case "", scopeMine:
		params.OwnerID = s.user.UserID
	case scopeAll:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown scope %q (want mine or all)", a.Scope)), nil
	}
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}
	notes, err := s.svc.List(ctx, s.user, params)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(toItems(notes))
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[listArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a.Query = ""
	return s.list(ctx, a)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := req.RequireString("query"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := decode[listArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.list(ctx, a)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Get(ctx, s.user, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := decode[noteservice.CreateInput](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Create(ctx, s.user, in)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("created: " + n.ID), nil
}

type updateArgs struct {
	ID      string    `json:"id"`
	Content *string   `json:"content"`
	Tags    *[]string `json:"tags"`
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[updateArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.patch(ctx, a.ID, noteservice.Patch{Content: a.Content, Tags: a.Tags}, "updated")
}

type flagArgs struct {
	ID      string `json:"id"`
	Starred *bool  `json:"starred"`
	Shared  *bool  `json:"shared"`
}

// orTrue defaults an omitted flag to true.
func orTrue(v *bool) *bool {
	if v == nil {
		t := true
		return &t
	}
	return v
}

func (s *Server) starNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[flagArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.patch(ctx, a.ID, noteservice.Patch{IsStarred: orTrue(a.Starred)}, "")
}

type shareResult struct {
	ID         string `json:"id"`
	Shared     bool   `json:"shared"`
	ShareToken string `json:"share_token,omitempty"`
}

func (s *Server) shareNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[flagArgs](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if a.ID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	n, err := s.svc.Update(ctx, s.user, a.ID, noteservice.Patch{Shared: orTrue(a.Shared)})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(shareResult{ID: n.ID, Shared: n.Shared, ShareToken: n.ShareToken})
}

// patch applies p and answers with msg, or with the updated note when msg
// is empty.
func (s *Server) patch(ctx context.Context, id string, p noteservice.Patch, msg string) (*mcp.CallToolResult, error) {
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	n, err := s.svc.Update(ctx, s.user, id, p)
	if err != nil {
		return toolError(err), nil
	}
	if msg != "" {
		return mcp.NewToolResultText(msg + ": " + n.ID), nil
	}
	return jsonResult(toItems([]models.Note{*n})[0])
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Delete(ctx, s.user, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("deleted: " + id), nil
}

func (s *Server) listAttachments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := decode[struct {
		NoteIDs []string `json:"note_ids"`
	}](req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(a.NoteIDs) == 0 {
		return mcp.NewToolResultError("note_ids is required"), nil
	}
	atts, err := s.svc.ListAttachments(ctx, s.user, a.NoteIDs)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(atts)
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
