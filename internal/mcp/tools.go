package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"chainwatch/internal/chain"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/registry"
	"chainwatch/internal/sweep"
)

// ChainReader is the read side of the sweep engine.
type ChainReader interface {
	View(ctx context.Context) (*sweep.View, error)
	Lookup(ctx context.Context, ref string) (registry.Participant, error)
}

// Output formats accepted by the chain tools.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// --- chain_best ---

// ChainBestTool returns the best chain found by the last search.
type ChainBestTool struct {
	reader ChainReader
}

// NewChainBestTool creates the chain_best tool.
func NewChainBestTool(reader ChainReader) *ChainBestTool {
	return &ChainBestTool{reader: reader}
}

// Definition returns the MCP tool definition for chain_best.
func (t *ChainBestTool) Definition() mcp.Tool {
	return mcp.NewTool("chain_best",
		mcp.WithDescription(
			"Return the longest chain of participants linking back to the anchor. "+
				"Text output is the message that would be published; json output "+
				"lists every link with its validity.",
		),
		mcp.WithString("format",
			mcp.Description("Output format: 'text' (default) or 'json'"),
			mcp.Enum(FormatText, FormatJSON),
			mcp.DefaultString(FormatText),
		),
	)
}

// Handle processes the chain_best tool call.
func (t *ChainBestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := t.reader.View(ctx)
	if err != nil {
		return toolError(err), nil
	}

	switch format := req.GetString("format", FormatText); format {
	case FormatText:
		return mcp.NewToolResultText(view.Text), nil
	case FormatJSON:
		return jsonResult(struct {
			Anchor    string       `json:"anchor"`
			Links     []sweep.Link `json:"links"`
			Valid     int          `json:"valid"`
			Broken    int          `json:"broken"`
			Unbroken  int          `json:"unbroken"`
			BestValid bool         `json:"bestValid"`
		}{view.Anchor, view.Links, view.Valid, view.Broken, view.Unbroken, view.BestValid})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q", format)), nil
	}
}

// --- chain_diagnostics ---

// ChainDiagnosticsTool lists what participants should fix to repair or
// extend the chain.
type ChainDiagnosticsTool struct {
	reader ChainReader
}

// NewChainDiagnosticsTool creates the chain_diagnostics tool.
func NewChainDiagnosticsTool(reader ChainReader) *ChainDiagnosticsTool {
	return &ChainDiagnosticsTool{reader: reader}
}

// Definition returns the MCP tool definition for chain_diagnostics.
func (t *ChainDiagnosticsTool) Definition() mcp.Tool {
	return mcp.NewTool("chain_diagnostics",
		mcp.WithDescription(
			"List advisory notices for the current chain: broken links, branches "+
				"that could be merged, redundant links and unresolved usernames.",
		),
		mcp.WithString("kind",
			mcp.Description("Only return notices of this kind"),
			mcp.Enum(
				string(chain.NoticeBrokenLink),
				string(chain.NoticeBranchMerge),
				string(chain.NoticeRedundantLink),
				string(chain.NoticeUsername),
			),
		),
	)
}

// Handle processes the chain_diagnostics tool call.
func (t *ChainDiagnosticsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := t.reader.View(ctx)
	if err != nil {
		return toolError(err), nil
	}

	notices := filterNotices(view.Notices, chain.NoticeKind(req.GetString("kind", "")))
	if len(notices) == 0 {
		return mcp.NewToolResultText("No issues found."), nil
	}
	return mcp.NewToolResultText(chain.FormatNotices(notices)), nil
}

// filterNotices keeps notices of kind along with the nested notices that
// follow them. An empty kind keeps everything.
func filterNotices(notices []chain.Notice, kind chain.NoticeKind) []chain.Notice {
	if kind == "" {
		return notices
	}
	var out []chain.Notice
	keep := false
	for _, n := range notices {
		if !n.Nested {
			keep = n.Kind == kind
		}
		if keep {
			out = append(out, n)
		}
	}
	return out
}

// --- participant_lookup ---

// ParticipantLookupTool reports a participant and where they sit in the
// best chain.
type ParticipantLookupTool struct {
	reader ChainReader
}

// NewParticipantLookupTool creates the participant_lookup tool.
func NewParticipantLookupTool(reader ChainReader) *ParticipantLookupTool {
	return &ParticipantLookupTool{reader: reader}
}

// Definition returns the MCP tool definition for participant_lookup.
func (t *ParticipantLookupTool) Definition() mcp.Tool {
	return mcp.NewTool("participant_lookup",
		mcp.WithDescription(
			"Look up a participant by id or username and report their position "+
				"in the best chain and whether their link is valid.",
		),
		mcp.WithString("participant",
			mcp.Required(),
			mcp.Description("Participant id or username, with or without a leading @"),
		),
	)
}

// ParticipantInfo is the participant_lookup result.
type ParticipantInfo struct {
	registry.Participant
	DisplayName string `json:"displayName"`
	// Position is the 1-based position in the best chain counted from the
	// anchor, or 0 when the participant is not in it.
	Position  int    `json:"position"`
	ValidLink bool   `json:"validLink"`
	PointsTo  string `json:"pointsTo,omitempty"`
}

// Handle processes the participant_lookup tool call.
func (t *ParticipantLookupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := strings.TrimSpace(req.GetString("participant", ""))
	if ref == "" {
		return mcp.NewToolResultError("'participant' is required"), nil
	}

	p, err := t.reader.Lookup(ctx, ref)
	if err != nil {
		return toolError(err), nil
	}
	view, err := t.reader.View(ctx)
	if err != nil {
		return toolError(err), nil
	}

	info := ParticipantInfo{Participant: p, DisplayName: p.DisplayName()}
	for i, l := range view.Links {
		if l.ID != p.ID {
			continue
		}
		info.Position = i + 1
		info.ValidLink = l.Valid
		if i > 0 {
			info.PointsTo = view.Links[i-1].Name
		}
		break
	}
	return jsonResult(info)
}

// --- chain_summary ---

// ChainSummaryTool gives a one-paragraph status of the chain.
type ChainSummaryTool struct {
	reader ChainReader
}

// NewChainSummaryTool creates the chain_summary tool.
func NewChainSummaryTool(reader ChainReader) *ChainSummaryTool {
	return &ChainSummaryTool{reader: reader}
}

// Definition returns the MCP tool definition for chain_summary.
func (t *ChainSummaryTool) Definition() mcp.Tool {
	return mcp.NewTool("chain_summary",
		mcp.WithDescription(
			"Summarize the chain: length, broken links, branch count and how much "+
				"search work the last computation took.",
		),
	)
}

// Handle processes the chain_summary tool call.
func (t *ChainSummaryTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := t.reader.View(ctx)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chain length: %d\n", len(view.Best))
	fmt.Fprintf(&b, "Without breaks: %d\n", view.Unbroken)
	fmt.Fprintf(&b, "Broken links: %d\n", view.Broken)
	fmt.Fprintf(&b, "Branches: %d\n", view.Branches)
	fmt.Fprintf(&b, "Notices: %d\n", len(view.Notices))
	fmt.Fprintf(&b, "Expansions: %d\n", view.Stats.Expansions)
	fmt.Fprintf(&b, "Computed: %s\n", view.ComputedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if view.Summary != "" {
		b.WriteString("\n")
		b.WriteString(view.Summary)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

// --- helpers ---

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError turns an engine error into a tool-level error the client can
// show, including the suggested fixes when there are any.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	var cwErr *cwerrors.Error
	if errors.As(err, &cwErr) && len(cwErr.SuggestedFixes) > 0 {
		var b strings.Builder
		b.WriteString(msg)
		for _, fix := range cwErr.SuggestedFixes {
			b.WriteString("\n  - ")
			b.WriteString(fix.Description)
		}
		msg = b.String()
	}
	return mcp.NewToolResultError(msg)
}
