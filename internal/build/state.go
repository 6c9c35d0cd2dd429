package build

import "context"

// Position of a build in its state machine.
type State int

const (
	Bootstrapping State = iota
	Acquiring
	Building
	SnapshottingPre
	Installing
	SnapshottingPost
	Diffing
	Assembling
	Validating
	Done
	Failed
)

var stateNames = [...]string{
	Bootstrapping:    "bootstrapping",
	Acquiring:        "acquiring",
	Building:         "building",
	SnapshottingPre:  "snapshotting-pre",
	Installing:       "installing",
	SnapshottingPost: "snapshotting-post",
	Diffing:          "diffing",
	Assembling:       "assembling",
	Validating:       "validating",
	Done:             "done",
	Failed:           "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Work done in a state and where the build goes when it succeeds.
type transition struct {
	stage string                                 // Reported as the failed stage.
	next  State                                  // State entered on success.
	skip  func(*pipeline) bool                   // Optional. Skips the state when true.
	run   func(*pipeline, context.Context) error // Does the work.
}

// Stage names. The first four are the recipe stages; the rest name the
// engine's own steps when they fail.
const (
	StageBootstrap = "bootstrap"
	StageBuild     = "build"
	StageInstall   = "install"
	StageValidate  = "validate"
	StageAcquire   = "acquire"
	StageSnapshot  = "snapshot"
	StageDiff      = "diff"
	StageAssemble  = "assemble"
)

var transitions = map[State]transition{
	Bootstrapping:    {stage: StageBootstrap, next: Acquiring, run: (*pipeline).bootstrap},
	Acquiring:        {stage: StageAcquire, next: Building, run: (*pipeline).acquire},
	Building:         {stage: StageBuild, next: SnapshottingPre, run: (*pipeline).build, skip: (*pipeline).noBuildScript},
	SnapshottingPre:  {stage: StageSnapshot, next: Installing, run: (*pipeline).snapshotPre},
	Installing:       {stage: StageInstall, next: SnapshottingPost, run: (*pipeline).install},
	SnapshottingPost: {stage: StageSnapshot, next: Diffing, run: (*pipeline).snapshotPost},
	Diffing:          {stage: StageDiff, next: Assembling, run: (*pipeline).diff},
	Assembling:       {stage: StageAssemble, next: Validating, run: (*pipeline).assemble},
	Validating:       {stage: StageValidate, next: Done, run: (*pipeline).validate},
}
