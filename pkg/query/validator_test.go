package query

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		filter  *Filter
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid filter with all fields",
			filter: &Filter{
				AgentID:    "agent-1",
				EventType:  "llm.call.finish",
				Channel:    "LLM",
				Level:      "INFO",
				AlertLevel: "suspicious",
				Start:      &past,
				End:        &now,
				Limit:      100,
				SortOrder:  "asc",
			},
			wantErr: false,
		},
		{
			name:    "valid empty filter",
			filter:  &Filter{},
			wantErr: false,
		},
		{
			name:    "negative limit",
			filter:  &Filter{Limit: -1},
			wantErr: true,
			errMsg:  "limit must be >= 0",
		},
		{
			name:    "limit exceeds max",
			filter:  &Filter{Limit: MaxLimit + 1},
			wantErr: true,
			errMsg:  "limit must be <=",
		},
		{
			name:    "negative offset",
			filter:  &Filter{Offset: -5},
			wantErr: true,
			errMsg:  "offset must be >= 0",
		},
		{
			name:    "invalid sort order",
			filter:  &Filter{SortOrder: "sideways"},
			wantErr: true,
			errMsg:  "invalid sort order",
		},
		{
			name:    "invalid level",
			filter:  &Filter{Level: "fatal"},
			wantErr: true,
			errMsg:  "invalid level",
		},
		{
			name:    "invalid alert level",
			filter:  &Filter{AlertLevel: "critical"},
			wantErr: true,
			errMsg:  "invalid alert level",
		},
		{
			name:    "start after end",
			filter:  &Filter{Start: &now, End: &past},
			wantErr: true,
			errMsg:  "start must be before end",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateAlerts(t *testing.T) {
	if err := ValidateAlerts(&AlertFilter{Severity: "critical"}); err != nil {
		t.Errorf("ValidateAlerts() unexpected error: %v", err)
	}
	if err := ValidateAlerts(&AlertFilter{Severity: "extreme"}); err == nil {
		t.Error("ValidateAlerts() expected error for unknown severity")
	}
}

func TestApplyDefaults(t *testing.T) {
	f := &Filter{}
	ApplyDefaults(f)

	if f.Limit != DefaultLimit {
		t.Errorf("Limit = %d, want %d", f.Limit, DefaultLimit)
	}
	if f.SortOrder != "desc" {
		t.Errorf("SortOrder = %q, want desc", f.SortOrder)
	}

	f = &Filter{Limit: 5, SortOrder: "asc"}
	ApplyDefaults(f)
	if f.Limit != 5 || f.SortOrder != "asc" {
		t.Errorf("ApplyDefaults() overwrote explicit values: %+v", f)
	}
}
