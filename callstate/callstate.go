// Package callstate implements the per-call state machine the AT response
// dispatcher drives as call-control URCs and polled +CLCC refreshes
// arrive: allocation, state transitions, and the flag bitset tracking
// hold/conference/master-leg relationships within a device.
package callstate

import "fmt"

// State enumerates the lifecycle a call leg passes through. The ordering
// matches the original driver's enum so that any log or debug dump that
// prints the raw integer stays meaningful against that reference.
type State int

const (
	Active State = iota
	OnHold
	Dialing
	Alerting
	Incoming
	Waiting
	Released
	Init
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case OnHold:
		return "ONHOLD"
	case Dialing:
		return "DIALING"
	case Alerting:
		return "ALERTING"
	case Incoming:
		return "INCOMING"
	case Waiting:
		return "WAITING"
	case Released:
		return "RELEASED"
	case Init:
		return "INIT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const stateCount = int(Init) + 1

// Flag is a bitset of auxiliary call properties that coexist with State.
type Flag uint

const (
	FlagHoldOther   Flag = 1 << 0 // another call on this device is on hold because of this one
	FlagNeedHangup  Flag = 1 << 1 // local hangup requested but not yet confirmed by the modem
	FlagActivated   Flag = 1 << 2 // the host's channel object has been started
	FlagAlive       Flag = 1 << 3 // record is allocated and tracked (distinct from "exists in modem's list")
	FlagConference  Flag = 1 << 4
	FlagMaster      Flag = 1 << 5 // this leg is the conference master
	FlagBridgeLoop  Flag = 1 << 6
	FlagBridgeCheck Flag = 1 << 7
	FlagMultiparty  Flag = 1 << 8
)

// Direction distinguishes mobile-originated from mobile-terminated calls.
type Direction int

const (
	Outgoing Direction = iota
	IncomingCall
)

// Call is one call leg tracked against a device. CallIndex is the modem's
// own index as reported by +CLCC/^DSCI, used to correlate polled and
// unsolicited updates to the same leg.
type Call struct {
	CallIndex int
	UID       int
	State     State
	Flags     Flag
	Direction Direction
	Number    string
}

func (c *Call) HasFlag(f Flag) bool  { return c.Flags&f != 0 }
func (c *Call) SetFlag(f Flag)       { c.Flags |= f }
func (c *Call) ClearFlag(f Flag)     { c.Flags &^= f }

// Manager owns every live Call for one device, and the per-state counters
// the original driver keeps to answer "are there any calls in state X"
// without a linear scan.
type Manager struct {
	calls     map[int]*Call // keyed by CallIndex
	count     [stateCount]int
	nextUID   int
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{calls: make(map[int]*Call)}
}

// Alloc creates a new Call in Init state and registers it. It assigns the
// call its own sequential UID, which the dispatcher uses to find the Call
// a given command outcome belongs to before the modem has assigned a
// CallIndex; until Track is called the call is registered under the
// provisional index -UID, so ByUID and Live already see it.
func (m *Manager) Alloc(dir Direction, number string) *Call {
	m.nextUID++
	c := &Call{UID: m.nextUID, State: Init, Direction: dir, Number: number, Flags: FlagAlive}
	c.CallIndex = -c.UID
	m.calls[c.CallIndex] = c
	m.count[Init]++
	return c
}

// Track registers an allocated Call under the modem-assigned CallIndex,
// once it becomes known (the response to ATD doesn't carry one; it's
// learned from the first +CLCC/^DSCI that mentions this call), replacing
// its provisional entry.
func (m *Manager) Track(c *Call, callIndex int) {
	delete(m.calls, c.CallIndex)
	c.CallIndex = callIndex
	m.calls[callIndex] = c
}

// ByIndex looks up a tracked Call by its modem-assigned index.
func (m *Manager) ByIndex(callIndex int) (*Call, bool) {
	c, ok := m.calls[callIndex]
	return c, ok
}

// ByUID looks up a Call that hasn't been Tracked yet (or is being looked
// up by its allocation-time identity regardless of index) by scanning
// live calls; the set is small (a handful of simultaneous legs at most)
// so a linear scan is preferable to a second index.
func (m *Manager) ByUID(uid int) (*Call, bool) {
	for _, c := range m.calls {
		if c.UID == uid {
			return c, true
		}
	}
	return nil, false
}

// Transition moves c to state, updating the per-state counters. It is a
// no-op if c is already in that state.
func (m *Manager) Transition(c *Call, state State) {
	if c.State == state {
		return
	}
	m.count[c.State]--
	c.State = state
	m.count[state]++
}

// Count reports how many tracked calls are currently in state.
func (m *Manager) Count(state State) int { return m.count[state] }

// Free releases c, removing it from the index and decrementing its state
// counter. It does not touch the AT queue: queued tasks carry no
// reference to a call, so a task issued for c stays queued on the device
// and its eventual OK/ERROR still pops the AT queue after c is gone.
func (m *Manager) Free(c *Call) {
	m.count[c.State]--
	delete(m.calls, c.CallIndex)
}

// Live returns every call currently tracked, for +CLCC refresh diffing
// and debug snapshots.
func (m *Manager) Live() []*Call {
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}
