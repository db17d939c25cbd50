package nodes

import (
	"github.com/ahamdihussein-star/processforge/process"
)

// RegisterAll wires every node family's executors into reg: flow control
// (START/MERGE), logic (CONDITION/SWITCH/LOOP/WHILE/SUB_PROCESS), task
// (AI_TASK/TOOL_CALL/SCRIPT), integration (HTTP_REQUEST/DATABASE_QUERY/
// MESSAGE_QUEUE), human (APPROVAL/HUMAN_TASK/NOTIFICATION), data
// (TRANSFORM/VALIDATE/FILTER/MAP/AGGREGATE), file (FILE_OPERATION), and
// timing (DELAY/SCHEDULE/EVENT_WAIT). END and PARALLEL have no standalone
// Executor: the engine handles them directly (process/engine.go).
func RegisterAll(reg *process.ExecutorRegistry, antiHallucination AntiHallucinationConfig) error {
	registrars := []func(*process.ExecutorRegistry) error{
		RegisterFlow,
		RegisterLogic,
		RegisterIntegration,
		RegisterHuman,
		RegisterData,
		RegisterFile,
		RegisterTiming,
	}
	for _, register := range registrars {
		if err := register(reg); err != nil {
			return err
		}
	}
	return RegisterTask(reg, antiHallucination)
}
