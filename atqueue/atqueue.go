// Package atqueue implements the ordered AT command queue that serializes
// everything written to a modem: one Task at a time, one Cmd within a Task
// at a time, with per-command timeouts and a small set of flags that
// change how a non-matching or failing response is handled.
package atqueue

import (
	"time"

	"github.com/nexmodem/qcore/corerr"
)

// Flag bits mirror the C driver's ATQ_CMD_FLAG_* constants.
type Flag uint

const (
	// FlagNone applies no special handling.
	FlagNone Flag = 0

	// FlagStatic marks a Cmd whose Data is a shared, reused byte slice
	// that must never be mutated or freed by the queue. Kept for parity
	// with the source design; Go's garbage collector makes the original
	// allocation-avoidance motivation moot, but the flag is preserved so
	// command tables that were written with ATQ_CMD_FLAG_STATIC in mind
	// translate one-to-one.
	FlagStatic Flag = 1 << iota

	// FlagIgnore means a non-matching response for this Cmd should not
	// abort the task; the queue advances to the next Cmd regardless.
	FlagIgnore

	// FlagSuppressError means a failing response for this Cmd should not
	// be logged as an error by the dispatcher.
	FlagSuppressError
)

// Default per-command timeouts, named to match the original driver's
// short/medium/long buckets.
const (
	TimeoutShort  = time.Second
	TimeoutMedium = 5 * time.Second
	TimeoutLong   = 40 * time.Second
)

// Cmd is a single AT command within a Task: the wire bytes to send, the
// response kind the queue should wait for, and how to react if that
// expectation isn't met.
type Cmd struct {
	Name     string        // command name/kind, used for dispatch lookup
	Expect   string        // expected terminal response token (e.g. "OK", "CMGR")
	Flags    Flag
	Timeout  time.Duration
	Data     []byte // wire bytes to write, including trailing CR
	deadline time.Time
	written  bool
}

// Task is an ordered, atomically-queued group of one or more Cmds. When
// AtOnce is true all of a task's commands are concatenated with ';' and
// sent as a single write (used for command batches a vendor allows to be
// chained on one line); otherwise each Cmd is written and awaited in turn.
type Task struct {
	UID    int
	Cmds   []Cmd
	AtOnce bool
	cursor int // index of the next Cmd to write (or the sole AtOnce entry)
}

// CurrentCmd returns the Cmd the queue is currently waiting on, or nil if
// the task has no more commands.
func (t *Task) CurrentCmd() *Cmd {
	if t == nil {
		return nil
	}
	if t.AtOnce {
		if len(t.Cmds) == 0 {
			return nil
		}
		return &t.Cmds[0]
	}
	if t.cursor >= len(t.Cmds) {
		return nil
	}
	return &t.Cmds[t.cursor]
}

// Queue is the ordered list of pending Tasks for one device link. Queue is
// not safe for concurrent use; callers (package device) hold the device
// mutex across every call.
type Queue struct {
	tasks []*Task
	next  int // monotonically increasing UID source
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{next: 1}
}

// Add appends a Task at the tail of the queue (normal priority) and
// assigns it a UID, returning the assigned Task.
func (q *Queue) Add(cmds []Cmd, atOnce bool) *Task {
	t := &Task{UID: q.next, Cmds: cmds, AtOnce: atOnce}
	q.next++
	q.tasks = append(q.tasks, t)
	return t
}

// InsertHead pushes a Task to the front of the queue, for commands that
// must preempt whatever is already pending (e.g. an urgent hangup).
func (q *Queue) InsertHead(cmds []Cmd, atOnce bool) *Task {
	t := &Task{UID: q.next, Cmds: cmds, AtOnce: atOnce}
	q.next++
	q.tasks = append([]*Task{t}, q.tasks...)
	return t
}

// HeadTask returns the task at the front of the queue, or nil if empty.
func (q *Queue) HeadTask() *Task {
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}

// HeadCmd returns the command the head task is currently waiting on.
func (q *Queue) HeadCmd() *Cmd {
	return q.HeadTask().CurrentCmd()
}

// Len reports the number of tasks still queued (including the head task
// that may be partially complete).
func (q *Queue) Len() int { return len(q.tasks) }

// RemoveCmd advances the head task past its current Cmd, given whether the
// response actually observed matched that Cmd's Expect. A true match always
// advances normally. A mismatch advances the same way only when the Cmd
// carries FlagIgnore; otherwise the whole task is aborted (RemoveTaskAtOnce)
// since a Cmd later in the same Task can depend on the one that just failed
// (e.g. the PDU body a SMSSend batch's second Cmd writes is only valid once
// the "> " prompt it follows has actually been seen). If the task's last Cmd
// completes, the whole task is popped off the queue. It reports whether a
// task was fully completed and removed, by either path.
func (q *Queue) RemoveCmd(matched bool) (taskDone bool) {
	t := q.HeadTask()
	if t == nil {
		return false
	}
	if !matched {
		cmd := t.CurrentCmd()
		if cmd == nil || cmd.Flags&FlagIgnore == 0 {
			q.RemoveTaskAtOnce()
			return true
		}
	}
	if t.AtOnce || t.cursor >= len(t.Cmds)-1 {
		q.tasks = q.tasks[1:]
		return true
	}
	t.cursor++
	return false
}

// RemoveTaskAtOnce drops the entire head task regardless of how many of
// its Cmds have completed; used when an at_once batch fails partway and
// the remaining commands in the same wire write can never be separately
// retried.
func (q *Queue) RemoveTaskAtOnce() {
	if len(q.tasks) > 0 {
		q.tasks = q.tasks[1:]
	}
}

// Flush discards every queued task. Any caller-visible waiters must be
// notified separately by package device; Flush only clears internal
// state.
func (q *Queue) Flush() {
	q.tasks = nil
}

// MarkWritten records that the head command's bytes were handed to the
// transport at t, starting its timeout clock. Until this is called,
// Timeout reports no deadline, mirroring the original design where a
// queued-but-unwritten command cannot time out.
func (q *Queue) MarkWritten(now time.Time) {
	cmd := q.HeadCmd()
	if cmd == nil {
		return
	}
	cmd.written = true
	to := cmd.Timeout
	if to == 0 {
		to = TimeoutMedium
	}
	cmd.deadline = now.Add(to)
}

// Timeout reports the remaining duration until the head command's
// deadline elapses, and whether a deadline is currently active at all
// (false if no command has been written yet).
func (q *Queue) Timeout(now time.Time) (time.Duration, bool) {
	cmd := q.HeadCmd()
	if cmd == nil || !cmd.written {
		return 0, false
	}
	return cmd.deadline.Sub(now), true
}

// WriteFailed wraps the cause of a failed write as a KindDeviceDisconnected
// error naming the command. It does not touch the queue: since the
// command's bytes never reached the modem and no response will arrive
// for it, the caller (device.writeHeadLocked) advances the queue itself
// with RemoveCmd(true) and ends the supervisor loop with this error.
func WriteFailed(cmd *Cmd, cause error) error {
	return corerr.Wrap(corerr.KindDeviceDisconnected, cause, "write AT command failed: "+cmd.Name)
}
