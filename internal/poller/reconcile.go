package poller

import (
	"context"
	"time"
)

// ToggleState tracks a PGM output through a control round-trip. A
// command moves the output to TogglePending with the desired value; the
// first poll observing that value moves it to ToggleReconciled, and the
// next one settles it back to ToggleIdle.
type ToggleState int

const (
	ToggleIdle ToggleState = iota
	TogglePending
	ToggleReconciled
)

// PGMToggle is the reconciler's answer for one output.
type PGMToggle struct {
	State   ToggleState
	Desired bool
	Since   time.Time
}

type pendingMsg struct {
	uid     string
	desired bool
}

type observeMsg struct {
	states map[string]bool // keyed by device UID
}

type queryMsg struct {
	uid   string
	reply chan PGMToggle
}

// Reconciler keeps the pending/reconciled bookkeeping for PGM toggles.
// All state lives in the Start goroutine and is updated purely through
// messages, so the control path and the poll path never race on it.
type Reconciler struct {
	msgs chan any
}

func NewReconciler() *Reconciler {
	return &Reconciler{msgs: make(chan any, 16)}
}

// Start launches the reconciler loop. It runs until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) {
	toggles := make(map[string]PGMToggle)

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.msgs:
			switch m := m.(type) {
			case pendingMsg:
				toggles[m.uid] = PGMToggle{State: TogglePending, Desired: m.desired, Since: time.Now()}
			case observeMsg:
				for uid, t := range toggles {
					on, seen := m.states[uid]
					switch t.State {
					case TogglePending:
						if seen && on == t.Desired {
							t.State = ToggleReconciled
							toggles[uid] = t
						}
					case ToggleReconciled:
						delete(toggles, uid)
					}
				}
			case queryMsg:
				m.reply <- toggles[m.uid]
			}
		}
	}
}

// NotePending records that a control command asked for the given state.
func (r *Reconciler) NotePending(uid string, desired bool) {
	r.msgs <- pendingMsg{uid: uid, desired: desired}
}

// Observe feeds the PGM states of a fresh snapshot into the reconciler.
func (r *Reconciler) Observe(states map[string]bool) {
	r.msgs <- observeMsg{states: states}
}

// State returns the toggle bookkeeping for one output. Outputs without
// an in-flight command report ToggleIdle.
func (r *Reconciler) State(uid string) PGMToggle {
	reply := make(chan PGMToggle, 1)
	r.msgs <- queryMsg{uid: uid, reply: reply}
	return <-reply
}
