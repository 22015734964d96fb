package sog

// State is a stage of the export pipeline.  Stages run strictly in order:
//
//	Init -> Ordering -> Positions -> Rotations -> Scales -> Colors -> SH -> Metadata -> Done
//
// SH is skipped for degree-0 input.  Cancelled and Failed are terminal and can be reached
// from any stage.
type State uint8

const (
	StateInit State = iota
	StateOrdering
	StatePositions
	StateRotations
	StateScales
	StateColors
	StateSH
	StateMetadata
	StateDone
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateInit:      "init",
	StateOrdering:  "ordering",
	StatePositions: "positions",
	StateRotations: "rotations",
	StateScales:    "scales",
	StateColors:    "colors",
	StateSH:        "sh",
	StateMetadata:  "metadata",
	StateDone:      "done",
	StateCancelled: "cancelled",
	StateFailed:    "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// stage is the progress report made when the pipeline enters a state.
type stage struct {
	state    State
	fraction float32
	name     string
}

var stages = []stage{
	{StateInit, 0, "Initializing"},
	{StateOrdering, 0.05, "Ordering"},
	{StatePositions, 0.10, "Positions"},
	{StateRotations, 0.20, "Rotations"},
	{StateScales, 0.30, "Scales k-means"},
	{StateColors, 0.45, "Colors k-means"},
	{StateSH, 0.60, "SH k-means"},
	{StateMetadata, 0.90, "Writing meta"},
	{StateDone, 1, "Complete"},
}

func stageFor(s State) stage {
	for _, st := range stages {
		if st.state == s {
			return st
		}
	}
	return stage{state: s, name: s.String()}
}
