package process

import "fmt"

// RetryConfig controls the execute_with_retry envelope for a node.
type RetryConfig struct {
	Enabled          bool    `json:"enabled"`
	MaxAttempts      int     `json:"max_attempts"`
	DelaySeconds     float64 `json:"delay_seconds"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// TimeoutAction is what the execute_with_timeout envelope does when a node
// exceeds its configured timeout.
type TimeoutAction string

const (
	TimeoutActionFail  TimeoutAction = "fail"
	TimeoutActionRetry TimeoutAction = "retry"
	TimeoutActionSkip  TimeoutAction = "skip"
)

// TimeoutConfig controls the execute_with_timeout envelope for a node.
type TimeoutConfig struct {
	Enabled bool          `json:"enabled"`
	Seconds float64       `json:"seconds"`
	Action  TimeoutAction `json:"action"`
}

// NodeConfig is the config block common to every ProcessNode.
type NodeConfig struct {
	Enabled     bool          `json:"enabled"`
	Retry       RetryConfig   `json:"retry"`
	Timeout     TimeoutConfig `json:"timeout"`
	SkipOnError bool          `json:"skip_on_error"`

	// TypeConfig holds the node-type-specific configuration block (e.g. the
	// CONDITION expression, the HTTP_REQUEST method/url, ...), kept as a raw
	// map and parsed by the owning node.Executor.
	TypeConfig map[string]any `json:"type_config"`
}

// NodeType identifies which Executor handles a ProcessNode.
type NodeType string

const (
	NodeStart     NodeType = "START"
	NodeEnd       NodeType = "END"
	NodeCondition NodeType = "CONDITION"
	NodeSwitch    NodeType = "SWITCH"
	NodeLoop      NodeType = "LOOP"
	NodeWhile     NodeType = "WHILE"
	NodeParallel  NodeType = "PARALLEL"
	NodeMerge     NodeType = "MERGE"

	NodeAITask   NodeType = "AI_TASK"
	NodeToolCall NodeType = "TOOL_CALL"
	NodeScript   NodeType = "SCRIPT"

	NodeHTTPRequest    NodeType = "HTTP_REQUEST"
	NodeDatabaseQuery  NodeType = "DATABASE_QUERY"
	NodeFileOperation  NodeType = "FILE_OPERATION"
	NodeMessageQueue   NodeType = "MESSAGE_QUEUE"

	NodeApproval     NodeType = "APPROVAL"
	NodeHumanTask    NodeType = "HUMAN_TASK"
	NodeNotification NodeType = "NOTIFICATION"

	NodeTransform NodeType = "TRANSFORM"
	NodeValidate  NodeType = "VALIDATE"
	NodeFilter    NodeType = "FILTER"
	NodeMap       NodeType = "MAP"
	NodeAggregate NodeType = "AGGREGATE"

	NodeDelay      NodeType = "DELAY"
	NodeSchedule   NodeType = "SCHEDULE"
	NodeEventWait  NodeType = "EVENT_WAIT"
	NodeSubProcess NodeType = "SUB_PROCESS"
)

// ProcessNode is a single vertex in a ProcessDefinition's graph.
type ProcessNode struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Name string   `json:"name"`

	Config NodeConfig `json:"config"`

	InputMapping   map[string]string `json:"input_mapping,omitempty"`
	OutputVariable string            `json:"output_variable,omitempty"`

	// Next, when set, overrides edge-based selection with a single
	// unconditional successor.
	Next string `json:"next,omitempty"`
}

// ProcessEdge connects two nodes, optionally guarded by a condition
// expression evaluated against process State.
type ProcessEdge struct {
	ID         string `json:"id"`
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Condition  string `json:"condition,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
	Order      int    `json:"order,omitempty"`
}

// Variable declares a process-level variable and its default value.
type Variable struct {
	Name      string `json:"name"`
	Default   any    `json:"default,omitempty"`
	Sensitive bool   `json:"sensitive,omitempty"`
}

// Trigger describes how a ProcessDefinition may be started.
type Trigger struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Settings holds process-wide execution quotas.
type Settings struct {
	MaxNodeExecutions      int  `json:"max_node_executions"`
	MaxExecutionTimeSeconds int  `json:"max_execution_time_seconds"`
	CheckpointEnabled      bool `json:"checkpoint_enabled"`
	CheckpointIntervalNodes int  `json:"checkpoint_interval_nodes"`
}

// DefaultSettings returns the settings used when a ProcessDefinition omits
// the settings block.
func DefaultSettings() Settings {
	return Settings{
		MaxNodeExecutions:       1000,
		MaxExecutionTimeSeconds: 3600,
		CheckpointEnabled:       true,
		CheckpointIntervalNodes: 5,
	}
}

// ProcessDefinition is the immutable, validated description of a process
// graph: its nodes, the edges connecting them, declared variables,
// triggers, and execution settings.
type ProcessDefinition struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Version  string     `json:"version"`
	Nodes    []*ProcessNode `json:"nodes"`
	Edges    []*ProcessEdge `json:"edges"`
	Variables []Variable `json:"variables,omitempty"`
	Triggers []Trigger  `json:"triggers,omitempty"`
	Settings Settings   `json:"settings"`

	nodesByID       map[string]*ProcessNode
	outgoingByNode  map[string][]*ProcessEdge
	startNode       *ProcessNode
}

// NewProcessDefinition validates raw nodes/edges and builds the lookup
// indexes a ProcessDefinition needs at execution time. It is the only
// supported constructor: a ProcessDefinition is never mutated in place
// once built.
func NewProcessDefinition(id, name, version string, nodes []*ProcessNode, edges []*ProcessEdge, variables []Variable, triggers []Trigger, settings Settings) (*ProcessDefinition, error) {
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}

	d := &ProcessDefinition{
		ID: id, Name: name, Version: version,
		Nodes: nodes, Edges: edges,
		Variables: variables, Triggers: triggers,
		Settings: settings,
	}
	if err := d.build(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ProcessDefinition) build() error {
	d.nodesByID = make(map[string]*ProcessNode, len(d.Nodes))
	var start *ProcessNode

	for _, n := range d.Nodes {
		if n.ID == "" {
			return ValidationError(CodeValidationError, "node id must not be empty")
		}
		if _, exists := d.nodesByID[n.ID]; exists {
			return ValidationError(CodeValidationError, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		if !isKnownNodeType(n.Type) {
			return ValidationError(CodeValidationError, fmt.Sprintf("unknown node type %q on node %q", n.Type, n.ID))
		}
		d.nodesByID[n.ID] = n
		if n.Type == NodeStart {
			if start != nil {
				return ValidationError(CodeValidationError, "process definition must have exactly one START node")
			}
			start = n
		}
	}
	if start == nil {
		return ValidationError(CodeNoStartNode, "process definition has no START node")
	}
	d.startNode = start

	d.outgoingByNode = make(map[string][]*ProcessEdge, len(d.Nodes))
	for _, e := range d.Edges {
		if _, ok := d.nodesByID[e.FromNodeID]; !ok {
			return ValidationError(CodeValidationError, fmt.Sprintf("edge %q references unknown from_node_id %q", e.ID, e.FromNodeID))
		}
		if _, ok := d.nodesByID[e.ToNodeID]; !ok {
			return ValidationError(CodeValidationError, fmt.Sprintf("edge %q references unknown to_node_id %q", e.ID, e.ToNodeID))
		}
		d.outgoingByNode[e.FromNodeID] = append(d.outgoingByNode[e.FromNodeID], e)
	}

	return nil
}

func isKnownNodeType(t NodeType) bool {
	switch t {
	case NodeStart, NodeEnd, NodeCondition, NodeSwitch, NodeLoop, NodeWhile, NodeParallel, NodeMerge,
		NodeAITask, NodeToolCall, NodeScript,
		NodeHTTPRequest, NodeDatabaseQuery, NodeFileOperation, NodeMessageQueue,
		NodeApproval, NodeHumanTask, NodeNotification,
		NodeTransform, NodeValidate, NodeFilter, NodeMap, NodeAggregate,
		NodeDelay, NodeSchedule, NodeEventWait, NodeSubProcess:
		return true
	default:
		return false
	}
}

// GetNode returns the node with the given id, if any.
func (d *ProcessDefinition) GetNode(id string) (*ProcessNode, bool) {
	n, ok := d.nodesByID[id]
	return n, ok
}

// GetStartNode returns the definition's single START node.
func (d *ProcessDefinition) GetStartNode() *ProcessNode {
	return d.startNode
}

// GetOutgoingEdges returns the edges leaving nodeID, in declaration order.
func (d *ProcessDefinition) GetOutgoingEdges(nodeID string) []*ProcessEdge {
	return d.outgoingByNode[nodeID]
}
