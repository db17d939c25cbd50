// Command processforge validates process definition files and dry-runs
// them against stub dependencies. It is a development aid, not a server:
// the engine itself is a library meant to be embedded by a host service.
//
// Usage:
//
//	processforge validate --file order_approval.yaml
//	processforge run --file order_approval.yaml --input '{"amount": 500}'
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/ahamdihussein-star/processforge/pkg/config"
	"github.com/ahamdihussein-star/processforge/pkg/httpclient"
	"github.com/ahamdihussein-star/processforge/pkg/logger"
	"github.com/ahamdihussein-star/processforge/pkg/observability"
	"github.com/ahamdihussein-star/processforge/pkg/registry"
	"github.com/ahamdihussein-star/processforge/pkg/tool"
	"github.com/ahamdihussein-star/processforge/process"
	"github.com/ahamdihussein-star/processforge/process/nodes"
)

// CLI defines the command-line interface.
type CLI struct {
	Validate ValidateCmd `cmd:"" help:"Validate a process definition file."`
	Run      RunCmd      `cmd:"" help:"Dry-run a process definition against stub dependencies."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple, colored, verbose)." default:"simple"`
}

// VersionCmd prints the binary's version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("processforge dev")
	return nil
}

// ValidateCmd loads a process definition file and reports whether it
// builds a valid graph (exactly one START node, every edge resolvable,
// every node type known).
type ValidateCmd struct {
	File string `required:"" short:"f" help:"Path to a process definition file (.json or .yaml)." type:"path"`
}

func (c *ValidateCmd) Run() error {
	def, err := loadDefinitionFile(c.File)
	if err != nil {
		return err
	}
	fmt.Printf("OK: %q (version %s) is valid: %d node(s), start=%s\n",
		def.Name, def.Version, len(def.Nodes), def.GetStartNode().ID)
	return nil
}

// RunCmd dry-runs a process definition from its START node using stub
// implementations of every external dependency (LLM, notifications,
// approvals, queue, directory). No checkpoint or node-execution record is
// persisted; the run is entirely in-memory.
type RunCmd struct {
	File  string `required:"" short:"f" help:"Path to a process definition file (.json or .yaml)." type:"path"`
	Input string `help:"JSON object of trigger input." default:"{}"`
	Model string `help:"Model identifier reported by the stub LLM client." default:"dry-run-model"`
	Trace bool   `help:"Enable tracing/metrics via pkg/observability and print the captured spans after the run."`
}

func (c *RunCmd) Run() error {
	def, err := loadDefinitionFile(c.File)
	if err != nil {
		return err
	}

	var triggerInput map[string]any
	if err := json.Unmarshal([]byte(c.Input), &triggerInput); err != nil {
		return fmt.Errorf("parse --input as JSON: %w", err)
	}

	cfg := &config.AntiHallucinationConfig{}

	reg := process.NewExecutorRegistry()
	if err := nodes.RegisterAll(reg, nodes.AntiHallucinationConfig{
		Enabled:               cfg.Enabled,
		NumericTolerance:      cfg.NumericTolerance,
		MinGenericFieldLength: cfg.MinGenericFieldLength,
	}); err != nil {
		return fmt.Errorf("register node executors: %w", err)
	}

	obsMgr, err := observabilityManager(c.Trace)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obsMgr.Shutdown(context.Background())

	engine := process.NewEngine(reg, nil, process.NoopRecorder{}, obsMgr)

	directory := stubUserDirectory{}
	tools := registry.NewBaseRegistry[tool.Tool]()
	if err := registerBuiltinTools(tools, directory); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	deps := &process.Dependencies{
		LLM:           stubLLMClient{model: c.Model},
		Tools:         tools,
		HTTP:          httpclient.New(),
		DBConnections: map[string]process.DBConnection{},
		Notifications: stubNotificationSender{},
		Directory:     directory,
		Approvals:     stubApprovalSink{},
		Queue:         stubQueuePublisher{},
	}

	executionID := uuid.NewString()
	result := engine.Run(context.Background(), executionID, def, triggerInput, deps)

	fmt.Printf("execution %s finished: status=%s nodes_executed=%d\n", executionID, result.Status, result.NodesExecuted)
	if result.Error != nil {
		fmt.Printf("  error: %s\n", result.Error.UserMessage())
	}
	if result.Status == process.ExecutionWaiting {
		fmt.Printf("  waiting_for=%s resume_node=%s\n", result.WaitingFor, result.ResumeNodeID)
	}
	output, _ := json.MarshalIndent(result.FinalVariables, "  ", "  ")
	fmt.Printf("  variables:\n  %s\n", output)

	if c.Trace {
		printSpans(obsMgr)
		printMetrics(obsMgr)
	}
	return nil
}

// observabilityManager builds a real *observability.Manager from the host's
// ObservabilityConfig when trace is requested, or nil (a valid,
// nil-receiver-safe no-op) otherwise. The dry-run tool hardcodes the stdout
// exporter since there is no collector to point an OTLP exporter at; a host
// service would load ObservabilityConfig from its own config file instead.
func observabilityManager(trace bool) (*observability.Manager, error) {
	if !trace {
		return nil, nil
	}
	oc := config.ObservabilityConfig{
		Enabled:       true,
		ServiceName:   "processforge",
		TraceExporter: "stdout",
		MetricsAddr:   ":9464",
	}
	fmt.Printf("  observability: tracing=%s metrics_would_listen_on=%s (a host process serves ObsMgr.MetricsHandler() there; the dry-run tool only prints a snapshot below)\n", oc.TraceExporter, oc.MetricsAddr)
	cfg := &observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:     oc.Enabled,
			Exporter:    oc.TraceExporter,
			ServiceName: oc.ServiceName,
			Endpoint:    oc.OTLPEndpoint,
		},
		Metrics: observability.MetricsConfig{
			Enabled:   oc.Enabled,
			Namespace: oc.ServiceName,
		},
	}
	return observability.NewManager(context.Background(), cfg)
}

// printSpans dumps every span captured by the run's debug exporter.
func printSpans(obsMgr *observability.Manager) {
	exporter := obsMgr.DebugExporter()
	if exporter == nil {
		return
	}
	spans := exporter.GetAllSpans()
	fmt.Printf("  spans captured: %d\n", len(spans))
	for _, span := range spans {
		fmt.Printf("    %-24s %8.2fms  status=%s\n", span.Name, span.DurationMs, span.Status)
	}
}

// printMetrics renders a handful of lines from the Prometheus exposition
// format the engine just populated, by invoking the manager's own
// MetricsHandler against an in-memory recorder rather than binding a port.
func printMetrics(obsMgr *observability.Manager) {
	if !obsMgr.MetricsEnabled() {
		return
	}
	rec := httptest.NewRecorder()
	obsMgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	fmt.Println("  metrics (processforge_* families):")
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "processforge_") {
			fmt.Printf("    %s\n", line)
		}
	}
}

func loadDefinitionFile(path string) (*process.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.HasSuffix(strings.ToLower(filepath.Ext(path)), "json") {
		return process.LoadDefinitionJSON(data)
	}
	return process.LoadDefinitionYAML(data)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("processforge"),
		kong.Description("Durable process orchestration engine - validation and dry-run tool"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	logger.Init(level, os.Stderr, cli.LogFormat)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
