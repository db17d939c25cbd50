// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool_test

import (
	"fmt"

	"github.com/ahamdihussein-star/processforge/pkg/tool"
	"github.com/ahamdihussein-star/processforge/pkg/tool/functiontool"
)

// Example_basic demonstrates wrapping a directory lookup as a TOOL_CALL
// tool, the way cmd/processforge's dry-run registers lookup_user.
func Example_basic() {
	type LookupManagerArgs struct {
		UserID string `json:"user_id" jsonschema:"required,description=ID of the user whose manager to resolve"`
	}

	lookupManagerTool, err := functiontool.New(
		functiontool.Config{
			Name:        "lookup_manager",
			Description: "Resolve a user's manager id for escalation routing",
		},
		func(ctx tool.Context, args LookupManagerArgs) (map[string]any, error) {
			return map[string]any{
				"user_id":    args.UserID,
				"manager_id": "mgr-" + args.UserID,
			}, nil
		},
	)

	if err != nil {
		panic(err)
	}

	fmt.Printf("Tool Name: %s\n", lookupManagerTool.Name())
	fmt.Printf("Is Long Running: %v\n", lookupManagerTool.(interface{ IsLongRunning() bool }).IsLongRunning())
	// Output:
	// Tool Name: lookup_manager
	// Is Long Running: false
}

// Example_withValidation demonstrates a tool whose arguments need checking
// beyond what struct tags express, like an APPROVAL escalation deadline
// that must stay within the process engine's allowed range.
func Example_withValidation() {
	type SetEscalationDeadlineArgs struct {
		ApprovalID      string `json:"approval_id" jsonschema:"required,description=Approval request id"`
		DeadlineSeconds int    `json:"deadline_seconds" jsonschema:"required,description=Seconds until escalation"`
	}

	setDeadlineTool, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "set_escalation_deadline",
			Description: "Set how long an approval waits before escalating",
		},
		func(ctx tool.Context, args SetEscalationDeadlineArgs) (map[string]any, error) {
			return map[string]any{
				"approval_id":      args.ApprovalID,
				"deadline_seconds": args.DeadlineSeconds,
			}, nil
		},
		func(args SetEscalationDeadlineArgs) error {
			if args.DeadlineSeconds <= 0 || args.DeadlineSeconds > 30*24*3600 {
				return fmt.Errorf("deadline_seconds out of range: %d", args.DeadlineSeconds)
			}
			return nil
		},
	)

	if err != nil {
		panic(err)
	}

	fmt.Printf("Tool: %s\n", setDeadlineTool.Name())
	// Output:
	// Tool: set_escalation_deadline
}

// Example_complexTypes demonstrates a tool with slice and enum parameters,
// like a NOTIFICATION fan-out helper an AI_TASK node might call.
func Example_complexTypes() {
	type NotifyChannelsArgs struct {
		Message  string   `json:"message" jsonschema:"required,description=Notification body"`
		Channels []string `json:"channels,omitempty" jsonschema:"description=Channels to notify"`
		Priority string   `json:"priority,omitempty" jsonschema:"description=Notification priority,default=normal,enum=low|normal|high|urgent"`
	}

	notifyTool, err := functiontool.New(
		functiontool.Config{
			Name:        "notify_channels",
			Description: "Fan a notification out across channels",
		},
		func(ctx tool.Context, args NotifyChannelsArgs) (map[string]any, error) {
			return map[string]any{
				"message":       args.Message,
				"channel_count": len(args.Channels),
			}, nil
		},
	)

	if err != nil {
		panic(err)
	}

	schema := notifyTool.Schema()
	fmt.Printf("Schema type: %s\n", schema["type"])
	// Output:
	// Schema type: object
}
