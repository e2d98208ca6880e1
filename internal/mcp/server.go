package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"questtab/internal/engine"
	"questtab/internal/store"
	"questtab/internal/tracker"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the tracker over the Model Context Protocol so an
// agent can read boards and submit progress updates.
type MCPServer struct {
	store   *store.Store
	tracker *tracker.Tracker
	logger  *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(st *store.Store, tr *tracker.Tracker, logger *slog.Logger) *MCPServer {
	return &MCPServer{store: st, tracker: tr, logger: logger}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"questtab",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("quest_dashboard",
		mcp.WithDescription("Show the current board: every account with its active tasks, progress and pool balances"),
		mcp.WithString("account_id",
			mcp.Description("Limit the board to one account (optional)"),
		),
	), s.handleDashboard)

	mcpServer.AddTool(mcp.NewTool("quest_list_accounts",
		mcp.WithDescription("List tracked accounts and their goal tags"),
	), s.handleListAccounts)

	mcpServer.AddTool(mcp.NewTool("quest_list_tasks",
		mcp.WithDescription("List task definitions with their schedule kind and tracking mode"),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("quest_update_status",
		mcp.WithDescription("Submit a progress update for a task. For boolean tasks pass completed; for counter tasks pass current; for round-based tasks pass the full progress object as JSON"),
		mcp.WithString("account_id",
			mcp.Required(),
			mcp.Description("Account ID"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithBoolean("completed",
			mcp.Description("Completion flag for boolean tasks"),
		),
		mcp.WithNumber("current",
			mcp.Description("Current count for counter tasks"),
			mcp.Min(0),
		),
		mcp.WithString("progress_json",
			mcp.Description("Raw progress object for round-based tasks"),
		),
	), s.handleUpdateStatus)

	mcpServer.AddTool(mcp.NewTool("quest_account_pools",
		mcp.WithDescription("Show an account's resource pool balances, refreshing stale ones"),
		mcp.WithString("account_id",
			mcp.Required(),
			mcp.Description("Account ID"),
		),
	), s.handleAccountPools)

	mcpServer.AddTool(mcp.NewTool("quest_status_history",
		mcp.WithDescription("Show past cycles of one task for one account"),
		mcp.WithString("account_id",
			mcp.Required(),
			mcp.Description("Account ID"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of cycles to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleStatusHistory)

	s.logger.Info("MCP tools registered", "count", 6)
}

func (s *MCPServer) handleDashboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := mcp.ParseString(request, "account_id", "")

	boards, err := s.tracker.Dashboard(ctx, time.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble dashboard: %v", err)), nil
	}

	var b strings.Builder
	matched := 0
	for _, board := range boards {
		if filter != "" && board.AccountID != filter {
			continue
		}
		matched++
		fmt.Fprintf(&b, "%s (%s)\n", board.Nickname, board.AccountID)
		if len(board.Goals) > 0 {
			fmt.Fprintf(&b, "  goals: %s\n", strings.Join(board.Goals, ", "))
		}
		for _, task := range board.Tasks {
			icon := "[ ]"
			if task.Status == engine.StatusCompleted {
				icon = "[x]"
			}
			fmt.Fprintf(&b, "  %s %s (%s, cycle %s", icon, task.Name, task.TrackingMode, task.PeriodKey)
			if task.TrackingMode == string(engine.TrackCounter) {
				fmt.Fprintf(&b, ", goal %d", task.EffectiveGoal)
			}
			b.WriteString(")\n")
		}
		for _, pool := range board.Pools {
			fmt.Fprintf(&b, "  pool %s: %d/%d (%s)\n",
				pool.Resource, pool.CurrentValue, pool.MaxValue, pool.ResetRule)
		}
		b.WriteString("\n")
	}
	if matched == 0 {
		return mcp.NewToolResultText("no matching accounts"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListAccounts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list accounts: %v", err)), nil
	}
	if len(accounts) == 0 {
		return mcp.NewToolResultText("no accounts"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d account(s):\n\n", len(accounts))
	for _, a := range accounts {
		fmt.Fprintf(&b, "%s\n  nickname: %s\n", a.ID, a.Nickname)
		if tags := a.GoalTags(); len(tags) > 0 {
			fmt.Fprintf(&b, "  goals: %s\n", strings.Join(tags, ", "))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("no tasks defined"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s):\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s\n  name: %s\n  schedule: %s\n  tracking: %s\n",
			t.ID, t.Name, t.Schedule.Kind(), t.TrackingMode)
		if t.Category != "" {
			fmt.Fprintf(&b, "  category: %s\n", t.Category)
		}
		if t.Activation != nil {
			fmt.Fprintf(&b, "  requires goal: %s\n", t.Activation.RequiredTag)
		}
		if t.ConsumesResource != "" {
			fmt.Fprintf(&b, "  consumes: %s\n", t.ConsumesResource)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUpdateStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := mcp.ParseString(request, "account_id", "")
	taskID := mcp.ParseString(request, "task_id", "")

	var progress json.RawMessage
	if raw := mcp.ParseString(request, "progress_json", ""); raw != "" {
		progress = json.RawMessage(raw)
	} else if current := mcp.ParseFloat64(request, "current", -1); current >= 0 {
		progress, _ = json.Marshal(map[string]int{"current": int(current)})
	} else {
		completed := mcp.ParseBoolean(request, "completed", false)
		progress, _ = json.Marshal(map[string]bool{"completed": completed})
	}

	outcome, err := s.tracker.ApplyUpdate(ctx, accountID, taskID, progress, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		case errors.Is(err, store.ErrAccountNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("account not found: %s", accountID)), nil
		case errors.Is(err, tracker.ErrTaskInactive):
			return mcp.NewToolResultError("task is not in an active cycle right now"), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", err)), nil
		}
	}

	result := fmt.Sprintf("status updated\ncycle: %s\nstatus: %s", outcome.Key.PeriodKey, outcome.Status)
	if outcome.Pool != nil {
		result += fmt.Sprintf("\npool %s: %d/%d",
			outcome.Pool.Key.Resource, outcome.Pool.CurrentValue, outcome.Pool.MaxValue)
	}
	return mcp.NewToolResultText(result), nil
}

func (s *MCPServer) handleAccountPools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := mcp.ParseString(request, "account_id", "")

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("account not found: %s", accountID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load account: %v", err)), nil
	}
	pools, err := s.tracker.AccountPools(ctx, accountID, time.Now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load pools: %v", err)), nil
	}
	if len(pools) == 0 {
		return mcp.NewToolResultText("no resource pools defined"), nil
	}
	var b strings.Builder
	for _, pool := range pools {
		fmt.Fprintf(&b, "%s: %d/%d (%s reset, last %s)\n",
			pool.Resource, pool.CurrentValue, pool.MaxValue, pool.ResetRule, pool.LastResetPeriod)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleStatusHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := mcp.ParseString(request, "account_id", "")
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	records, err := s.tracker.History(ctx, accountID, taskID, limit, 0)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("account not found: %s", accountID)), nil
		case errors.Is(err, store.ErrTaskNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("failed to list history: %v", err)), nil
		}
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("no recorded cycles"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d cycle(s):\n\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "%s: %s (updated %s)\n",
			rec.Key.PeriodKey, rec.Status, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}
