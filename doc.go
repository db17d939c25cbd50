// Package processforge provides a durable, resumable process execution
// engine: it runs directed graphs of heterogeneous nodes (conditions,
// loops, AI calls, tool invocations, HTTP requests, human approvals,
// file/data operations, delays, sub-processes) with checkpoint/resume
// across restarts.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/ahamdihussein-star/processforge/cmd/processforge@latest
//
// Define a process as a JSON document (nodes, edges, variables, settings)
// and start an execution:
//
//	processforge run --file my-process.json --input '{"x":"hello"}'
//
// # Using as a Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/ahamdihussein-star/processforge/process"
//	    "github.com/ahamdihussein-star/processforge/persistence"
//	    "github.com/ahamdihussein-star/processforge/pkg/config"
//	)
//
// # Key Concepts
//
//   - ProcessDefinition: an immutable graph of typed nodes and edges.
//   - ProcessState: the mutable per-execution variable/loop/parallel state.
//   - Execution Engine: the step loop that drives a single execution,
//     selecting next nodes, checkpointing, and handling waiting states.
//   - Node Executors: per-family logic (flow, logic, task, integration,
//     human, data, timing) behind a pluggable registry.
//   - Persistence Service: CRUD for ProcessExecution, ProcessNodeExecution,
//     and ProcessApprovalRequest records.
//
// # Architecture
//
//	Trigger → Engine(Definition, State, Dependencies) → Node Executors → Persistence
//
// Waiting results (approval, delay, event, sub-process) pause an execution
// durably; resume restores state and continues from the recorded node.
//
// # License
//
// Apache-2.0.
package processforge
