package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...)}
}

// AnalyticsParams are the raw analytics query parameters
type AnalyticsParams struct {
	StartDate  string
	EndDate    string
	ProjectIDs string
}

// AnalyticsQuery is a validated analytics period
type AnalyticsQuery struct {
	StartDate  string
	EndDate    string
	ProjectIDs []string
}

// LinkParams is the raw body of a credential link request
type LinkParams struct {
	RoomNo       string `json:"roomNo"`
	ProjectID    string `json:"projectId"`
	ProjectName  string `json:"projectName"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	PasswordHash string `json:"passwordHash"`
}

// Validator checks admin API input
type Validator struct {
	defaultWindowDays int
	maxRangeDays      int
}

// NewValidator creates a validator. Queries without dates cover the last
// defaultWindowDays days ending today; no query may span more than
// maxRangeDays.
func NewValidator(defaultWindowDays, maxRangeDays int) *Validator {
	if defaultWindowDays <= 0 {
		defaultWindowDays = 7
	}
	if maxRangeDays <= 0 {
		maxRangeDays = 366
	}
	return &Validator{
		defaultWindowDays: defaultWindowDays,
		maxRangeDays:      maxRangeDays,
	}
}

// ValidateAnalytics normalizes an analytics query relative to now
func (v *Validator) ValidateAnalytics(p AnalyticsParams, now time.Time) (AnalyticsQuery, ValidationResult) {
	today := now.Format(timeparser.DateLayout)

	endStr := strings.TrimSpace(p.EndDate)
	if endStr == "" {
		endStr = today
	}
	end, err := timeparser.ParseDate(endStr)
	if err != nil {
		return AnalyticsQuery{}, invalid("endDate: %v", err)
	}

	startStr := strings.TrimSpace(p.StartDate)
	if startStr == "" {
		startStr = end.AddDate(0, 0, -(v.defaultWindowDays - 1)).Format(timeparser.DateLayout)
	}
	start, err := timeparser.ParseDate(startStr)
	if err != nil {
		return AnalyticsQuery{}, invalid("startDate: %v", err)
	}

	if start.After(end) {
		return AnalyticsQuery{}, invalid("startDate %s is after endDate %s", startStr, endStr)
	}
	if days := timeparser.DaysBetween(start, end); days > v.maxRangeDays {
		return AnalyticsQuery{}, invalid("date range of %d days exceeds the maximum of %d", days, v.maxRangeDays)
	}

	return AnalyticsQuery{
		StartDate:  startStr,
		EndDate:    endStr,
		ProjectIDs: splitList(p.ProjectIDs),
	}, ValidationResult{IsValid: true}
}

// ValidateLink checks a credential link body
func (v *Validator) ValidateLink(meterID string, p LinkParams) ValidationResult {
	if strings.TrimSpace(meterID) == "" {
		return invalid("meterId is required")
	}
	if strings.TrimSpace(p.RoomNo) == "" {
		return invalid("roomNo is required")
	}
	if strings.TrimSpace(p.Username) == "" {
		return invalid("username is required")
	}
	if p.Password == "" && p.PasswordHash == "" {
		return invalid("password or passwordHash is required")
	}
	return ValidationResult{IsValid: true}
}

// ValidateControl checks a meter control action
func (v *Validator) ValidateControl(action string) ValidationResult {
	switch action {
	case iot.ActionOn, iot.ActionOff, iot.ActionPrepaid:
		return ValidationResult{IsValid: true}
	}
	return invalid("action must be one of %s, %s, %s", iot.ActionOn, iot.ActionOff, iot.ActionPrepaid)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
