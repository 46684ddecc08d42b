package flow

// Observer is told about every state change and the terminal outcome of a
// flow. Calls happen outside the flow's lock, in transition order per flow.
// Implementations must not call back into the flow.
type Observer interface {
	StateChanged(req Request, from, to State)
	Finished(req Request, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) StateChanged(Request, State, State) {}
func (nopObserver) Finished(Request, Outcome)          {}

type multiObserver []Observer

// Observers fans out to all non-nil observers.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) StateChanged(req Request, from, to State) {
	for _, o := range m {
		o.StateChanged(req, from, to)
	}
}

func (m multiObserver) Finished(req Request, outcome Outcome) {
	for _, o := range m {
		o.Finished(req, outcome)
	}
}
