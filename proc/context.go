package proc

// Context is the Go-goroutine analogue of xv6's struct context: a saved
// point of execution a call to SwitchContext can resume. There is no real
// register/stack switch here — Go gives no safe way to do that — so each
// Context is backed by a goroutine parked on an unbuffered channel. The
// property every caller (Kernel.Scheduler, Kernel.sched) relies on is
// exactly the one xv6's swtch() provides: control passes to the other side
// and does not return to this one until something switches back.
type Context struct {
	resume chan struct{}
}

// NewContext returns a Context ready to be switched into.
func NewContext() *Context {
	return &Context{resume: make(chan struct{})}
}

// SwitchContext hands control from the caller to to, and blocks until some
// later call hands control back to from. Exactly one of any two Contexts
// related this way is ever the one actually running.
func SwitchContext(from, to *Context) {
	to.resume <- struct{}{}
	<-from.resume
}

// Hart is one simulated hardware thread: one goroutine runs
// Kernel.Scheduler(ctx, hart) for its whole lifetime. Hart-local state
// (which process it's running, its interrupt-disable nesting) is modeled
// as plain fields rather than goroutine-local storage, in place of C's
// implicit mycpu()/cpuid(): see ksync's SpinLock doc for why this is the
// one place that style is used, rather than threading *Hart through every
// lock acquisition.
type Hart struct {
	ID  int
	ctx *Context

	current *Proc

	noff             int
	intrEnabled      bool
	priorIntrEnabled bool
}

// NewHart returns a Hart with no process running and interrupts disabled,
// matching a freshly started CPU before its first scheduler iteration.
func NewHart(id int) *Hart {
	return &Hart{ID: id, ctx: NewContext()}
}

// IntrOn enables interrupts on this hart (xv6's intr_on).
func (h *Hart) IntrOn() { h.intrEnabled = true }

// IntrOff disables interrupts on this hart (xv6's intr_off).
func (h *Hart) IntrOff() { h.intrEnabled = false }

// IntrEnabled reports whether interrupts are currently enabled on this hart
// (xv6's intr_get).
func (h *Hart) IntrEnabled() bool { return h.intrEnabled }

// PushOff disables interrupts, remembering the prior state on the first of
// a nested sequence of calls (xv6's push_off).
func (h *Hart) PushOff() {
	old := h.intrEnabled
	h.intrEnabled = false
	if h.noff == 0 {
		h.priorIntrEnabled = old
	}
	h.noff++
}

// PopOff undoes one PushOff, restoring interrupts once the nesting count
// returns to zero and they were enabled beforehand (xv6's pop_off).
func (h *Hart) PopOff() {
	if h.intrEnabled {
		panic("proc: pop_off: interrupts already enabled")
	}
	if h.noff < 1 {
		panic("proc: pop_off: no matching push_off")
	}
	h.noff--
	if h.noff == 0 && h.priorIntrEnabled {
		h.intrEnabled = true
	}
}

// CurrentProc returns the process this hart is currently running, or nil
// (xv6's myproc()), bracketed by PushOff/PopOff exactly as the original
// disables interrupts around the read.
func (h *Hart) CurrentProc() *Proc {
	h.PushOff()
	defer h.PopOff()
	return h.current
}
