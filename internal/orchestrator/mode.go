package orchestrator

import (
	"fmt"

	"github.com/p-blackswan/appforge/internal/intent"
	"github.com/p-blackswan/appforge/internal/llm"
	"github.com/p-blackswan/appforge/internal/schema"
)

// Mode selects the entry stage of a generation session.
type Mode string

const (
	ModeController Mode = "controller"
	ModeCodeGen    Mode = "codegen"
	ModeAuto       Mode = "auto"
)

// ParseMode accepts "" as auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeController, ModeCodeGen:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// State is a step of the session state machine.
type State string

const (
	StateIdle        State = "idle"
	StateDetermining State = "determining-mode"
	StatePlanning    State = "planning"
	StateValidating  State = "validating"
	StateTransition  State = "transition"
	StateGenerating  State = "generating"
	StateReviewing   State = "reviewing"
	StateComplete    State = "complete"
	StateError       State = "error"
)

// transitions lists the legal successors of every state. Any non-terminal
// state may also move to error.
var transitions = map[State][]State{
	StateIdle:        {StateDetermining},
	StateDetermining: {StatePlanning, StateValidating},
	StatePlanning:    {StateValidating},
	StateValidating:  {StateTransition},
	StateTransition:  {StateGenerating, StateComplete},
	StateGenerating:  {StateReviewing, StateComplete},
	StateReviewing:   {StateComplete},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if to == StateError {
		return from != StateComplete && from != StateError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DetermineMode picks the entry stage for the latest user message. An
// explicit controller or codegen request is honored. Auto plans, unless the
// existing schema is already complete and the message leans towards
// building over planning.
func DetermineMode(messages []llm.Message, existing *schema.AppSchema, requested Mode) Mode {
	switch requested {
	case ModeController, ModeCodeGen:
		return requested
	}
	if !schema.IsComplete(existing) {
		return ModeController
	}
	build, plan := intent.Strength(latestUserMessage(messages))
	if build > plan {
		return ModeCodeGen
	}
	return ModeController
}

func latestUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
