package sequence

import (
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
	"github.com/forcelab/eoltester/pkg/sysinfo"
)

// Verdict is the final outcome of an execution.
type Verdict string

const (
	VerdictPass      Verdict = "PASS"
	VerdictFail      Verdict = "FAIL"
	VerdictError     Verdict = "ERROR"
	VerdictCancelled Verdict = "CANCELLED"
)

// PhaseName identifies one step of the sequence state machine.
type PhaseName string

const (
	PhaseConnect       PhaseName = "CONNECT"
	PhasePreparePower  PhaseName = "PREPARE_POWER"
	PhasePrepareMCU    PhaseName = "PREPARE_MCU"
	PhaseHomeRobot     PhaseName = "HOME_ROBOT"
	PhaseZeroLoadcell  PhaseName = "ZERO_LOADCELL"
	PhaseRunMatrix     PhaseName = "RUN_MATRIX"
	PhaseHomeBack      PhaseName = "HOME_BACK"
	PhaseShutdownPower PhaseName = "SHUTDOWN_POWER"
	PhaseCooldownMCU   PhaseName = "COOLDOWN_MCU"
	PhaseDisconnect    PhaseName = "DISCONNECT"
)

// phaseOrder is the canonical phase sequence. Records are always emitted
// in this order, skipped phases included.
var phaseOrder = []PhaseName{
	PhaseConnect,
	PhasePreparePower,
	PhasePrepareMCU,
	PhaseHomeRobot,
	PhaseZeroLoadcell,
	PhaseRunMatrix,
	PhaseHomeBack,
	PhaseShutdownPower,
	PhaseCooldownMCU,
	PhaseDisconnect,
}

// PhaseOutcome is the recorded result of one phase.
type PhaseOutcome string

const (
	OutcomeOK      PhaseOutcome = "ok"
	OutcomeFailed  PhaseOutcome = "failed"
	OutcomeSkipped PhaseOutcome = "skipped"
)

// PhaseRecord captures one phase's execution window and outcome.
type PhaseRecord struct {
	Name      PhaseName    `json:"name"`
	EnteredAt time.Time    `json:"entered_at"`
	ExitedAt  time.Time    `json:"exited_at"`
	Outcome   PhaseOutcome `json:"outcome"`
	ErrorKind hw.Kind      `json:"error_kind,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// CellOutcome classifies one matrix cell against its configured limits.
type CellOutcome string

const (
	// CellPass means the peak force was inside the configured limits.
	CellPass CellOutcome = "pass"

	// CellFail means the peak force violated a configured limit.
	CellFail CellOutcome = "fail"

	// CellUnchecked means no limit was configured for the cell; the
	// measurement is reported as-is.
	CellUnchecked CellOutcome = "unchecked"
)

// Measurement is one matrix cell: a single (repeat, temperature, position)
// triple. Appended exclusively by the orchestrator and never mutated after
// append.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`

	Repeat    int `json:"repeat"`
	TempIndex int `json:"temp_index"`
	PosIndex  int `json:"pos_index"`

	TemperatureSetC    float64 `json:"temperature_set_c"`
	TemperatureActualC float64 `json:"temperature_actual_c"`
	StrokeSetUm        float64 `json:"stroke_set_um"`
	StrokeActualUm     float64 `json:"stroke_actual_um"`
	PeakForceN         float64 `json:"peak_force_n"`

	Duration time.Duration `json:"duration_ns"`

	Outcome   CellOutcome `json:"outcome"`
	LimitMinN *float64    `json:"limit_min_n,omitempty"`
	LimitMaxN *float64    `json:"limit_max_n,omitempty"`
}

// ThermalCycle records how long one temperature block took to heat to the
// operating point and to cool back to standby.
type ThermalCycle struct {
	Repeat          int           `json:"repeat"`
	TempIndex       int           `json:"temp_index"`
	TemperatureC    float64       `json:"temperature_c"`
	HeatingDuration time.Duration `json:"heating_duration_ns"`
	CoolingDuration time.Duration `json:"cooling_duration_ns"`
}

// CellRef points at the matrix cell an error concerns.
type CellRef struct {
	Repeat       int     `json:"repeat"`
	TempIndex    int     `json:"temp_index"`
	PosIndex     int     `json:"pos_index"`
	TemperatureC float64 `json:"temperature_c"`
	PositionUm   float64 `json:"position_um"`
}

// ErrorSummary names a failure: the phase it happened in, the error kind,
// and the offending cell when applicable. The first entry is the primary
// failure; teardown failures follow.
type ErrorSummary struct {
	Phase   PhaseName `json:"phase"`
	Kind    hw.Kind   `json:"kind,omitempty"`
	Message string    `json:"message"`
	Cell    *CellRef  `json:"cell,omitempty"`
}

// TestResult is the complete record of one execution. Created by the
// orchestrator, returned once, immutable thereafter.
type TestResult struct {
	ExecutionID string `json:"execution_id"`
	DUTSerial   string `json:"dut_serial"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Parameters Parameters `json:"parameters"`

	Phases        []PhaseRecord  `json:"phases"`
	Measurements  []Measurement  `json:"measurements"`
	ThermalCycles []ThermalCycle `json:"thermal_cycles,omitempty"`

	Verdict Verdict        `json:"verdict"`
	Errors  []ErrorSummary `json:"errors,omitempty"`

	Environment *sysinfo.Snapshot `json:"environment,omitempty"`
	Notices     []string          `json:"notices,omitempty"`
}

// Duration is the wall-clock length of the execution.
func (r *TestResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Phase returns the record for the named phase, or nil.
func (r *TestResult) Phase(name PhaseName) *PhaseRecord {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i]
		}
	}

	return nil
}
