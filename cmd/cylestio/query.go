package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cylestio/cylestio-monitor/pkg/cli"
	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/query"
)

var queryFlags struct {
	agent    string
	limit    int
	format   string
	since    time.Duration
	start    string
	end      string
	severity string
	alert    string
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query stored events",
	Long: `Query the event database. Text fields are shown masked, exactly as
they were stored.

Subcommands:
  recent        - Newest events
  type          - Events of one event type
  channel       - Events on one channel (LLM, TOOL, SYSTEM, SECURITY, ...)
  level         - Events at one level
  session       - A session's events in order
  conversation  - A conversation's events in order
  window        - Events in a time window, oldest first
  search        - Full text search over masked text
  related       - Events paired with one event (request and response)
  stats         - Per-agent totals and distributions
  alerts        - Security alerts

Time Format:
  RFC3339, e.g. "2025-03-01T00:00:00Z". --since takes a duration such as 24h.

Examples:
  cylestio query recent --agent weather-agent --limit 20
  cylestio query type llm_call_start --format json
  cylestio query window --since 1h --format csv > last-hour.csv
  cylestio query search "rm -rf"
  cylestio query alerts --severity high`,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	pf := queryCmd.PersistentFlags()
	pf.StringVarP(&queryFlags.agent, "agent", "a", "", "only this agent")
	pf.IntVarP(&queryFlags.limit, "limit", "n", query.DefaultLimit, "maximum number of results")
	pf.StringVarP(&queryFlags.format, "format", "f", "text", "output format (text, json, csv)")
	pf.DurationVar(&queryFlags.since, "since", 0, "start of the window relative to now (e.g. 24h)")
	pf.StringVar(&queryFlags.start, "start", "", "start of the window, inclusive (RFC3339)")
	pf.StringVar(&queryFlags.end, "end", "", "end of the window, exclusive (RFC3339)")

	queryAlertsCmd.Flags().StringVar(&queryFlags.severity, "severity", "", "only alerts of this severity (low, medium, high, critical)")
	queryAlertsCmd.Flags().StringVar(&queryFlags.alert, "type", "", "only alerts of this type")

	queryCmd.AddCommand(
		eventQuery("recent", "Show the newest events", cobra.NoArgs,
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.RecentEvents(ctx, queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("type <event_type>", "Show events of one event type", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.EventsByType(ctx, args[0], queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("channel <channel>", "Show events on one channel", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.EventsByChannel(ctx, strings.ToUpper(args[0]), queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("level <level>", "Show events at one level", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.EventsByLevel(ctx, strings.ToLower(args[0]), queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("session <session_id>", "Show a session's events in order", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.SessionEvents(ctx, args[0], queryFlags.limit)
			}),
		eventQuery("conversation <conversation_id>", "Show a conversation's events in order", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.ConversationEvents(ctx, args[0], queryFlags.limit)
			}),
		eventQuery("window", "Show events in a time window, oldest first", cobra.NoArgs,
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				w, err := parseWindow(time.Now())
				if err != nil {
					return nil, err
				}
				if w.Start == nil {
					return nil, cli.NewConfigError("start", "window needs --start or --since")
				}
				end := time.Now().UTC()
				if w.End != nil {
					end = *w.End
				}
				return svc.EventsInWindow(ctx, *w.Start, end, queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("search <text>", "Search masked text", cobra.MinimumNArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				return svc.Search(ctx, strings.Join(args, " "), queryFlags.agent, queryFlags.limit)
			}),
		eventQuery("related <event_id>", "Show the events paired with one event", cobra.ExactArgs(1),
			func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error) {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return nil, cli.NewConfigError("event_id", fmt.Sprintf("%q is not an event id", args[0]))
				}
				return svc.RelatedEvents(ctx, id, queryFlags.limit)
			}),
		queryStatsCmd,
		queryAlertsCmd,
	)
}

// withQuery opens the store and runs fn with a query service over it.
func withQuery(cmd *cobra.Command, fn func(svc *query.Service, format cli.OutputFormat) error) error {
	format, err := cli.ParseFormat(queryFlags.format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	defer st.Close()

	if err := fn(query.NewService(st, a.logger), format); err != nil {
		return cli.NewCommandError(cmd.CommandPath(), err)
	}
	return nil
}

type eventFinder func(ctx context.Context, svc *query.Service, args []string) ([]*events.Normalized, error)

func eventQuery(use, short string, args cobra.PositionalArgs, find eventFinder) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd, func(svc *query.Service, format cli.OutputFormat) error {
				evs, err := find(cmd.Context(), svc, args)
				if err != nil {
					return err
				}
				return cli.WriteEvents(cmd.Context(), cmd.OutOrStdout(), format, evs)
			})
		},
	}
}

// parseWindow reads --since, --start and --end. --start wins over --since.
func parseWindow(now time.Time) (query.Window, error) {
	var w query.Window
	if queryFlags.since > 0 {
		start := now.UTC().Add(-queryFlags.since)
		w.Start = &start
	}
	if queryFlags.start != "" {
		t, err := time.Parse(time.RFC3339, queryFlags.start)
		if err != nil {
			return w, cli.NewConfigError("start", err.Error())
		}
		w.Start = &t
	}
	if queryFlags.end != "" {
		t, err := time.Parse(time.RFC3339, queryFlags.end)
		if err != nil {
			return w, cli.NewConfigError("end", err.Error())
		}
		w.End = &t
	}
	return w, nil
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-agent totals and distributions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(time.Now())
		if err != nil {
			return err
		}
		return withQuery(cmd, func(svc *query.Service, format cli.OutputFormat) error {
			ctx := cmd.Context()
			var report statsReport
			if report.Agents, err = svc.AgentStats(ctx, queryFlags.agent, w); err != nil {
				return err
			}
			if report.Types, err = svc.TypeDistribution(ctx, queryFlags.agent, w); err != nil {
				return err
			}
			if report.Channels, err = svc.ChannelDistribution(ctx, queryFlags.agent, w); err != nil {
				return err
			}
			if report.Levels, err = svc.LevelDistribution(ctx, queryFlags.agent, w); err != nil {
				return err
			}
			return report.write(cmd, format)
		})
	},
}

// statsReport renders as the agent table in CSV and as several tables in
// text.
type statsReport struct {
	Agents   []query.AgentStats `json:"agents"`
	Types    []query.Bucket     `json:"event_types"`
	Channels []query.Bucket     `json:"channels"`
	Levels   []query.Bucket     `json:"levels"`
}

// Header implements cli.Table.
func (r statsReport) Header() []string {
	return []string{"AGENT", "EVENTS", "LLM", "TOOL", "FLAGGED", "BLOCKED", "TOKENS_IN", "TOKENS_OUT", "COST", "AVG_MS", "SUCCESS", "FAILED", "SUCCESS_RATE", "FIRST", "LAST"}
}

// Rows implements cli.Table.
func (r statsReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Agents))
	for _, s := range r.Agents {
		rows = append(rows, []string{
			s.AgentID,
			strconv.FormatInt(s.EventCount, 10),
			strconv.FormatInt(s.LLMCalls, 10),
			strconv.FormatInt(s.ToolCalls, 10),
			strconv.FormatInt(s.FlaggedEvents, 10),
			strconv.FormatInt(s.BlockedEvents, 10),
			strconv.FormatInt(s.TokensIn, 10),
			strconv.FormatInt(s.TokensOut, 10),
			fmt.Sprintf("%.4f", s.Cost),
			fmt.Sprintf("%.0f", s.AvgDurationMS),
			strconv.FormatInt(s.Successes, 10),
			strconv.FormatInt(s.Failures, 10),
			fmt.Sprintf("%.2f", s.SuccessRate),
			shortTime(s.FirstEvent),
			shortTime(s.LastEvent),
		})
	}
	return rows
}

func (r statsReport) write(cmd *cobra.Command, format cli.OutputFormat) error {
	out := cmd.OutOrStdout()
	if format != cli.FormatText {
		return cli.NewFormatter(format).FormatTo(out, r)
	}

	text := cli.NewFormatter(cli.FormatText)
	if err := text.FormatTo(out, r); err != nil {
		return err
	}
	for _, section := range []struct {
		title   string
		buckets []query.Bucket
	}{
		{"EVENT TYPE", r.Types},
		{"CHANNEL", r.Channels},
		{"LEVEL", r.Levels},
	} {
		fmt.Fprintln(out)
		if err := text.FormatTo(out, bucketTable{title: section.title, buckets: section.buckets}); err != nil {
			return err
		}
	}
	return nil
}

type bucketTable struct {
	title   string
	buckets []query.Bucket
}

func (t bucketTable) Header() []string { return []string{t.title, "COUNT"} }

func (t bucketTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.buckets))
	for _, b := range t.buckets {
		rows = append(rows, []string{b.Key, strconv.FormatInt(b.Count, 10)})
	}
	return rows
}

var queryAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show security alerts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(time.Now())
		if err != nil {
			return err
		}
		return withQuery(cmd, func(svc *query.Service, format cli.OutputFormat) error {
			alerts, err := svc.SecurityAlerts(cmd.Context(), query.AlertFilter{
				AgentID:   queryFlags.agent,
				AlertType: queryFlags.alert,
				Severity:  queryFlags.severity,
				Start:     w.Start,
				End:       w.End,
				Limit:     queryFlags.limit,
			})
			if err != nil {
				return err
			}
			if alerts == nil {
				alerts = []events.SecurityAlert{}
			}
			if format == cli.FormatJSON {
				return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), alerts)
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), alertTable(alerts))
		})
	},
}

type alertTable []events.SecurityAlert

func (t alertTable) Header() []string {
	return []string{"ID", "EVENT", "TIME", "TYPE", "SEVERITY", "ACTION", "TERMS", "DESCRIPTION"}
}

func (t alertTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, a := range t {
		rows = append(rows, []string{
			strconv.FormatInt(a.ID, 10),
			strconv.FormatInt(a.EventID, 10),
			shortTime(a.Timestamp),
			a.AlertType,
			a.Severity,
			a.ActionTaken,
			strings.Join(a.MatchedTerms, ";"),
			a.Description,
		})
	}
	return rows
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
