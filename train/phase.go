package train

// Phase is the state of a training run.
type Phase int32

const (
	// PhaseIdle is the state before Run.
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseTrainingEpoch
	PhaseValidatingEpoch
	PhaseCheckpointDecision
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseInitializing:
		return "Initializing"
	case PhaseTrainingEpoch:
		return "TrainingEpoch"
	case PhaseValidatingEpoch:
		return "ValidatingEpoch"
	case PhaseCheckpointDecision:
		return "CheckpointDecision"
	case PhaseTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}
