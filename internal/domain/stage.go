package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownStage marks a stage outside the closed enumeration.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrInvalidStage is returned for stage names that cannot be used at all.
	ErrInvalidStage = errors.New("invalid stage name")
	// ErrInvalidPatch is returned for patch ids outside [1, N].
	ErrInvalidPatch = errors.New("invalid patch id")
)

// Stage is one phase of the supply chain a patch passes through.
type Stage string

const (
	StageOrigin  Stage = "origin"
	StageStorage Stage = "storage"
	StageTransit Stage = "transit"
	StagePOS     Stage = "pos"
)

const maxStageName = 32

// legacy names used by the first dashboard build.
var stageAliases = map[string]Stage{
	"farm":      StageOrigin,
	"depot":     StageStorage,
	"transport": StageTransit,
	"market":    StagePOS,
}

// Stages lists the known stages in supply-chain order.
func Stages() []Stage {
	return []Stage{StageOrigin, StageStorage, StageTransit, StagePOS}
}

// Known reports whether the stage has generation and scoring models.
func (s Stage) Known() bool {
	switch s {
	case StageOrigin, StageStorage, StageTransit, StagePOS:
		return true
	default:
		return false
	}
}

func (s Stage) String() string {
	return string(s)
}

// ParseStage normalizes a stage name. Unknown but well-formed names are
// accepted; callers check Known when they need a modelled stage.
func ParseStage(raw string) (Stage, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || len(name) > maxStageName {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' {
			return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
		}
	}
	if alias, ok := stageAliases[name]; ok {
		return alias, nil
	}
	return Stage(name), nil
}

// ParseKnownStage is ParseStage restricted to the closed enumeration.
func ParseKnownStage(raw string) (Stage, error) {
	stage, err := ParseStage(raw)
	if err != nil {
		return "", err
	}
	if !stage.Known() {
		return "", fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return stage, nil
}
