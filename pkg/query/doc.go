// Package query answers read-only questions about stored monitoring
// events.
//
// # Event Queries
//
// Service wraps the event store with validated filters:
//
//   - Recent events, optionally per agent
//   - Events by type, channel or level
//   - Events in a half-open time window [start, end)
//   - Text search over masked prompts, responses and tool payloads
//   - Session and conversation timelines
//
// # Aggregates
//
// AgentStats, TypeDistribution, ChannelDistribution and LevelDistribution
// summarize activity, optionally restricted to an agent and a Window.
// SecurityAlerts lists raised alerts by type, severity and time.
//
// # Query Validation
//
// The validator ensures filter parameters are valid before execution:
//
//   - Limit >= 0 and <= MaxLimit (0 means DefaultLimit)
//   - Offset >= 0
//   - Sort order is asc or desc
//   - Level and alert level are known values
//   - Time range is valid (start <= end)
//
// # Basic Usage
//
//	svc := query.NewService(st, logger)
//
//	recent, err := svc.RecentEvents(ctx, "agent-1", 20)
//	if err != nil {
//	    return err
//	}
//
//	alerts, err := svc.SecurityAlerts(ctx, query.AlertFilter{Severity: "high"})
package query
