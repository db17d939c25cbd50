package main

import (
	"fmt"
	"time"

	"github.com/ahamdihussein-star/processforge/pkg/registry"
	"github.com/ahamdihussein-star/processforge/pkg/tool"
	"github.com/ahamdihussein-star/processforge/pkg/tool/functiontool"
	"github.com/ahamdihussein-star/processforge/process"
)

// registerBuiltinTools populates reg with the dry-run tool's function-backed
// TOOL_CALL tools, giving a process definition something to call besides
// whatever a host wires in.
func registerBuiltinTools(reg *registry.BaseRegistry[tool.Tool], dir process.UserDirectory) error {
	lookupUser, err := newLookupUserTool(dir)
	if err != nil {
		return err
	}
	if err := reg.Register(lookupUser.Name(), lookupUser); err != nil {
		return err
	}

	clock, err := newCurrentTimeTool()
	if err != nil {
		return err
	}
	return reg.Register(clock.Name(), clock)
}

// lookupUserArgs is the typed argument struct for the lookup_user tool;
// functiontool derives its JSON schema from these tags.
type lookupUserArgs struct {
	UserID string `json:"user_id" jsonschema:"required,description=ID of the directory user to look up"`
}

// newLookupUserTool wraps a process.UserDirectory as a TOOL_CALL-callable
// tool, so a workflow's TOOL_CALL step can resolve "who is this user's
// manager" style lookups through the same directory APPROVAL/HUMAN_TASK
// nodes use for assignee resolution.
func newLookupUserTool(dir process.UserDirectory) (tool.CallableTool, error) {
	return functiontool.New(
		functiontool.Config{
			Name:        "lookup_user",
			Description: "Looks up a directory user by id, returning their email, manager, and department.",
		},
		func(ctx tool.Context, args lookupUserArgs) (map[string]any, error) {
			if args.UserID == "" {
				return nil, fmt.Errorf("user_id is required")
			}
			user, err := dir.GetUser(ctx, args.UserID, "")
			if err != nil {
				return nil, err
			}
			if user == nil {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{
				"found":         true,
				"id":            user.ID,
				"email":         user.Email,
				"manager_id":    user.ManagerID,
				"department_id": user.DepartmentID,
			}, nil
		},
	)
}

// currentTimeArgs is the typed argument struct for the current_time tool.
type currentTimeArgs struct {
	Layout string `json:"layout,omitempty" jsonschema:"description=Go time layout string,default=2006-01-02T15:04:05Z07:00"`
}

// newCurrentTimeTool exposes the wall clock as a TOOL_CALL, letting a
// workflow stamp a deadline or SLA field without the AI_TASK node having to
// hallucinate "now".
func newCurrentTimeTool() (tool.CallableTool, error) {
	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "current_time",
			Description: "Returns the current UTC time formatted with the given Go layout (default RFC3339).",
		},
		func(ctx tool.Context, args currentTimeArgs) (map[string]any, error) {
			layout := args.Layout
			if layout == "" {
				layout = time.RFC3339
			}
			return map[string]any{"now": time.Now().UTC().Format(layout)}, nil
		},
		func(args currentTimeArgs) error {
			if args.Layout == "" {
				return nil
			}
			// A layout is "valid" for our purposes if formatting the
			// current time with it round-trips through a parse.
			if _, err := time.Parse(args.Layout, time.Now().UTC().Format(args.Layout)); err != nil {
				return fmt.Errorf("invalid layout %q: %w", args.Layout, err)
			}
			return nil
		},
	)
}
