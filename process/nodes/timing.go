package nodes

import (
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"

	"github.com/ahamdihussein-star/processforge/process"
)

// shortDelayCeiling is the longest DELAY the engine will sleep through
// cooperatively; beyond this it suspends and relies on an external
// scheduler to resume the execution at resume_at.
const shortDelayCeiling = 300 * time.Second

// delayExecutor pauses the process for a configured duration. Short
// delays sleep the worker; longer ones suspend the execution and leave
// resumption to the host's scheduler sweep.
type delayExecutor struct{}

func (delayExecutor) Validate(node *process.ProcessNode) *process.Error {
	if _, ok := process.GetConfigFloat(node, "seconds"); !ok {
		return process.ValidationError(process.CodeValidationError, "DELAY node requires type_config.seconds")
	}
	return nil
}

func (delayExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	seconds, _ := process.GetConfigFloat(node, "seconds")
	duration := time.Duration(seconds * float64(time.Second))

	if duration <= shortDelayCeiling {
		select {
		case <-time.After(duration):
			return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"delayed_seconds": seconds}}
		case <-ctx.Done():
			return process.NodeResult{Status: process.StatusFailed, Error: process.TimeoutErrorf("DELAY node cancelled before its wait completed")}
		}
	}

	resumeAt := time.Now().Add(duration)
	return process.NodeResult{
		Status:     process.StatusWaiting,
		WaitingFor: process.WaitDelay,
		WaitingMetadata: map[string]any{
			"resume_at": resumeAt.Format(time.RFC3339),
		},
	}
}

// scheduleExecutor suspends until a target datetime, a cron expression's
// next firing, or the next business-hours window, whichever the node is
// configured for. An external dispatcher resumes the execution once the
// target time has passed; SCHEDULE never sleeps cooperatively since the
// wait can span days.
type scheduleExecutor struct{}

func (scheduleExecutor) Validate(node *process.ProcessNode) *process.Error {
	hasAt := process.GetConfigString(node, "at") != ""
	hasCron := process.GetConfigString(node, "cron_expression") != ""
	hasBusinessHours := process.GetConfigBool(node, "business_hours")
	if !hasAt && !hasCron && !hasBusinessHours {
		return process.ValidationError(process.CodeValidationError, "SCHEDULE node requires one of type_config.at, type_config.cron_expression, or type_config.business_hours")
	}
	return nil
}

func (scheduleExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	loc := scheduleLocation(process.GetConfigString(node, "timezone"))
	now := time.Now().In(loc)

	var target time.Time
	switch {
	case process.GetConfigString(node, "at") != "":
		at, err := state.InterpolateString(process.GetConfigString(node, "at"))
		if err != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
		}
		parsed, perr := time.ParseInLocation(time.RFC3339, at, loc)
		if perr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "SCHEDULE node type_config.at is not a valid RFC3339 timestamp")}
		}
		target = parsed

	case process.GetConfigString(node, "cron_expression") != "":
		schedule, perr := cron.ParseStandard(process.GetConfigString(node, "cron_expression"))
		if perr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "SCHEDULE node type_config.cron_expression is invalid: "+perr.Error())}
		}
		target = schedule.Next(now)

	default:
		target = nextBusinessHoursWindow(node, now, loc)
	}

	if !target.After(now) {
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"scheduled_for": target.Format(time.RFC3339), "waited": false}}
	}

	return process.NodeResult{
		Status:     process.StatusWaiting,
		WaitingFor: process.WaitSchedule,
		WaitingMetadata: map[string]any{
			"resume_at": target.Format(time.RFC3339),
		},
	}
}

// scheduleLocation loads the configured IANA timezone, falling back to UTC
// and logging a warning when the zone database entry can't be found,
// mirroring the original's `except ImportError: local_now = now` fallback
// (SPEC_FULL.md item 5).
func scheduleLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("SCHEDULE timezone not found, falling back to UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// businessHoursConfig is the typed shape of a SCHEDULE node's business-hours
// settings, decoded from the node's loosely-typed type_config map via
// mitchellh/mapstructure rather than field-by-field map lookups. Fields
// absent from type_config keep whatever default the caller pre-seeded the
// struct with, since mapstructure only overwrites keys it finds.
type businessHoursConfig struct {
	Weekdays  []string `mapstructure:"weekdays"`
	Holidays  []string `mapstructure:"holidays"`
	StartHour int      `mapstructure:"start_hour"`
	EndHour   int      `mapstructure:"end_hour"`
}

func decodeBusinessHoursConfig(node *process.ProcessNode) businessHoursConfig {
	cfg := businessHoursConfig{
		Weekdays:  []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		StartHour: 9,
		EndHour:   17,
	}
	_ = mapstructure.Decode(node.Config.TypeConfig, &cfg)
	return cfg
}

// nextBusinessHoursWindow returns the next moment at or after now that
// falls inside a configured weekday/hours window, skipping weekends and
// any date present in the node's holiday set.
func nextBusinessHoursWindow(node *process.ProcessNode, now time.Time, loc *time.Location) time.Time {
	cfg := decodeBusinessHoursConfig(node)
	weekdays := businessWeekdaySet(cfg.Weekdays)
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, d := range cfg.Holidays {
		holidays[d] = true
	}

	candidate := now
	for i := 0; i < 14; i++ { // a two-week lookahead always finds a business day
		day := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 0, 0, 0, 0, loc)
		dateKey := day.Format("2006-01-02")

		if weekdays[day.Weekday()] && !holidays[dateKey] {
			windowStart := day.Add(time.Duration(cfg.StartHour) * time.Hour)
			windowEnd := day.Add(time.Duration(cfg.EndHour) * time.Hour)
			if candidate.Before(windowStart) {
				return windowStart
			}
			if candidate.Before(windowEnd) {
				return candidate
			}
		}
		candidate = day.AddDate(0, 0, 1)
	}
	return candidate
}

func businessWeekdaySet(names []string) map[time.Weekday]bool {
	known := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	}
	out := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		if wd, ok := known[lowerASCII(name)]; ok {
			out[wd] = true
		}
	}
	return out
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// eventWaitExecutor suspends until an external dispatcher delivers an
// event payload through Engine.Resume. A configured timeout_seconds is
// recorded as deadline_at in the wait metadata; the engine does not act on
// that deadline when it passes.
type eventWaitExecutor struct{}

func (eventWaitExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "event_name") == "" {
		return process.ValidationError(process.CodeValidationError, "EVENT_WAIT node requires type_config.event_name")
	}
	return nil
}

func (eventWaitExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	eventName, err := state.InterpolateString(process.GetConfigString(node, "event_name"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	metadata := map[string]any{"event_name": eventName}
	if timeoutSeconds, ok := process.GetConfigFloat(node, "timeout_seconds"); ok && timeoutSeconds > 0 {
		metadata["deadline_at"] = time.Now().Add(time.Duration(timeoutSeconds) * time.Second).Format(time.RFC3339)
	}

	return process.NodeResult{
		Status:          process.StatusWaiting,
		WaitingFor:      process.WaitEvent,
		WaitingMetadata: metadata,
	}
}

// RegisterTiming adds DELAY, SCHEDULE, and EVENT_WAIT to reg.
func RegisterTiming(reg *process.ExecutorRegistry) error {
	registrations := []struct {
		t    process.NodeType
		ctor process.Constructor
	}{
		{process.NodeDelay, func() process.Executor { return delayExecutor{} }},
		{process.NodeSchedule, func() process.Executor { return scheduleExecutor{} }},
		{process.NodeEventWait, func() process.Executor { return eventWaitExecutor{} }},
	}
	for _, r := range registrations {
		if err := reg.Register(r.t, r.ctor); err != nil {
			return err
		}
	}
	return nil
}
