package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cylestio/cylestio-monitor/pkg/events"
	"github.com/cylestio/cylestio-monitor/pkg/store"
)

// pairSuffixes maps opening event type suffixes to their closing ones.
var pairSuffixes = [][2]string{
	{"_request", "_response"},
	{".request", ".response"},
	{"_start", "_finish"},
	{".start", ".finish"},
}

// counterpart returns the paired event type of eventType and whether
// eventType opens the pair.
func counterpart(eventType string) (other string, opens bool, ok bool) {
	base := strings.TrimSuffix(eventType, events.BlockedSuffix)
	for _, p := range pairSuffixes {
		if stem, found := strings.CutSuffix(base, p[0]); found {
			return stem + p[1], true, true
		}
		if stem, found := strings.CutSuffix(base, p[1]); found {
			return stem + p[0], false, true
		}
	}
	return "", false, false
}

// RelatedEvents returns the events paired with eventID. A request or start
// event yields the responses that follow it, oldest first; a response or
// finish event yields the requests before it, newest first. Pairs are looked
// up in the event's trace and then in its conversation. Any other event
// yields the rest of its session in order. A missing event yields nothing.
func (s *Service) RelatedEvents(ctx context.Context, eventID int64, limit int) ([]*events.Normalized, error) {
	if err := validatePage(limit, 0); err != nil {
		return nil, NewQueryError(eventID, err)
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	ev, err := s.st.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError(eventID, err)
	}
	e := ev.Event

	other, opens, paired := counterpart(e.EventType)
	if !paired {
		if e.SessionID == "" {
			return nil, nil
		}
		return s.relatedIn(ctx, eventID, Filter{SessionID: e.SessionID, SortOrder: "asc"}, limit)
	}

	base := Filter{EventType: other, AgentID: e.AgentID}
	if opens {
		base.Start = &e.Timestamp
		base.SortOrder = "asc"
	} else {
		end := e.Timestamp.Add(time.Nanosecond)
		base.End = &end
		base.SortOrder = "desc"
	}

	var scopes []Filter
	if e.TraceID != "" {
		f := base
		f.TraceID = e.TraceID
		scopes = append(scopes, f)
	}
	if e.ConversationID != "" {
		f := base
		f.ConversationID = e.ConversationID
		scopes = append(scopes, f)
	}

	for _, f := range scopes {
		out, err := s.relatedIn(ctx, eventID, f, limit)
		if err != nil || len(out) > 0 {
			return out, err
		}
	}
	return nil, nil
}

// relatedIn runs f and drops eventID from the result.
func (s *Service) relatedIn(ctx context.Context, eventID int64, f Filter, limit int) ([]*events.Normalized, error) {
	f.Limit = min(limit+1, MaxLimit)
	found, err := s.Find(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]*events.Normalized, 0, len(found))
	for _, n := range found {
		if n.Event.ID == eventID {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
