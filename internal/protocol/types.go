package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MarkerField is the envelope field that frames protocol traffic.
const MarkerField = "__isWebWorkerMsg"

// Action names a method invoked on the receiving side of the channel.
type Action string

const (
	ActionStart                Action = "start"
	ActionSetTerminatingStatus Action = "setTerminatingStatus"
	ActionTerminate            Action = "terminate"
	ActionTerminateNow         Action = "terminateNow"
	ActionTrigger              Action = "trigger"
	ActionTriggerSelf          Action = "triggerSelf"

	// LegacySetTerminatingStatus is the name older worker runtimes answer to.
	LegacySetTerminatingStatus Action = "_setTerminatingStatus"
)

// ActionSet maps protocol roles to the names sent on the wire.
type ActionSet struct {
	Start                Action
	SetTerminatingStatus Action
	Terminate            Action
	TerminateNow         Action
	Trigger              Action
	TriggerSelf          Action
}

// DefaultActions returns the current action vocabulary.
func DefaultActions() ActionSet {
	return ActionSet{
		Start:                ActionStart,
		SetTerminatingStatus: ActionSetTerminatingStatus,
		Terminate:            ActionTerminate,
		TerminateNow:         ActionTerminateNow,
		Trigger:              ActionTrigger,
		TriggerSelf:          ActionTriggerSelf,
	}
}

// LegacyActions returns the vocabulary with the underscored terminating-status name.
func LegacyActions() ActionSet {
	set := DefaultActions()
	set.SetTerminatingStatus = LegacySetTerminatingStatus
	return set
}

// WithDefaults fills unset names from DefaultActions.
func (s ActionSet) WithDefaults() ActionSet {
	def := DefaultActions()
	if strings.TrimSpace(string(s.Start)) == "" {
		s.Start = def.Start
	}
	if strings.TrimSpace(string(s.SetTerminatingStatus)) == "" {
		s.SetTerminatingStatus = def.SetTerminatingStatus
	}
	if strings.TrimSpace(string(s.Terminate)) == "" {
		s.Terminate = def.Terminate
	}
	if strings.TrimSpace(string(s.TerminateNow)) == "" {
		s.TerminateNow = def.TerminateNow
	}
	if strings.TrimSpace(string(s.Trigger)) == "" {
		s.Trigger = def.Trigger
	}
	if strings.TrimSpace(string(s.TriggerSelf)) == "" {
		s.TriggerSelf = def.TriggerSelf
	}
	return s
}

// Table returns the role-keyed form embedded in the worker bootstrap.
func (s ActionSet) Table() map[string]Action {
	return map[string]Action{
		"START":                  s.Start,
		"SET_TERMINATING_STATUS": s.SetTerminatingStatus,
		"TERMINATE":              s.Terminate,
		"TERMINATE_NOW":          s.TerminateNow,
		"TRIGGER":                s.Trigger,
		"TRIGGER_SELF":           s.TriggerSelf,
	}
}

// EventPrefix namespaces every lifecycle event name.
const EventPrefix = "webworker:"

const (
	EventInitialized       = EventPrefix + "initialized"
	EventError             = EventPrefix + "error"
	EventWorkerLoading     = EventPrefix + "worker-loading"
	EventWorkerLoaded      = EventPrefix + "worker-loaded"
	EventWorkerStarting    = EventPrefix + "worker-starting"
	EventWorkerStarted     = EventPrefix + "worker-started"
	EventWorkerTerminating = EventPrefix + "worker-terminating"
	EventWorkerTerminated  = EventPrefix + "worker-terminated"
)

var lifecycleEvents = map[string]string{
	EventInitialized:       "INITIALIZED",
	EventError:             "ERROR",
	EventWorkerLoading:     "WORKER_LOADING",
	EventWorkerLoaded:      "WORKER_LOADED",
	EventWorkerStarting:    "WORKER_STARTING",
	EventWorkerStarted:     "WORKER_STARTED",
	EventWorkerTerminating: "WORKER_TERMINATING",
	EventWorkerTerminated:  "WORKER_TERMINATED",
}

// IsLifecycleEvent reports whether name belongs to the fixed lifecycle set.
func IsLifecycleEvent(name string) bool {
	_, ok := lifecycleEvents[name]
	return ok
}

// LifecycleEvents returns the role-keyed event table embedded in the worker bootstrap.
func LifecycleEvents() map[string]string {
	out := make(map[string]string, len(lifecycleEvents))
	for name, key := range lifecycleEvents {
		out[key] = name
	}
	return out
}

// Envelope is one protocol message.
type Envelope struct {
	Marker bool              `json:"__isWebWorkerMsg"`
	Action Action            `json:"action"`
	Args   []json.RawMessage `json:"args"`
}

// Arg decodes the positional argument i into out.
func (e Envelope) Arg(i int, out any) error {
	if i < 0 || i >= len(e.Args) {
		return fmt.Errorf("%w: %d of %d", ErrArgIndex, i, len(e.Args))
	}
	return json.Unmarshal(e.Args[i], out)
}

// Values decodes every argument into its generic JSON form.
func (e Envelope) Values() ([]any, error) {
	out := make([]any, 0, len(e.Args))
	for i := range e.Args {
		var v any
		if err := e.Arg(i, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EventPayload is the event object carried by trigger and triggerSelf.
type EventPayload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
