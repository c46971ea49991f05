package worker

// Body is the user code hosted by a Runtime.
type Body interface {
	// Bind runs once, before the runtime reports itself loaded.
	Bind(rt *Runtime) error
	// Main runs on every start with the host's start arguments.
	Main(rt *Runtime, args []any) error
}

// TerminateHandler runs at terminate time. Its result is sent back to the
// host as the terminateNow payload.
type TerminateHandler func(args []any) (any, error)

// terminateHooker is implemented by bodies that keep their own terminate hook.
type terminateHooker interface {
	TerminateHandler() TerminateHandler
}

// interrupter is implemented by bodies that can abort running code.
type interrupter interface {
	Interrupt(reason string)
}

// BodyFunc adapts a plain main function into a Body.
type BodyFunc func(rt *Runtime, args []any) error

func (f BodyFunc) Bind(*Runtime) error { return nil }

func (f BodyFunc) Main(rt *Runtime, args []any) error {
	if f == nil {
		return nil
	}
	return f(rt, args)
}
