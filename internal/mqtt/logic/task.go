package logic

import (
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
)

type kind uint8

const (
	kindConnect kind = iota
	kindPublish
	kindSubscribe
	kindUnsubscribe
	kindKeepalive
	kindShutdown
	kindInbound
)

func (k kind) String() string {
	switch k {
	case kindConnect:
		return "connect"
	case kindPublish:
		return "publish"
	case kindSubscribe:
		return "subscribe"
	case kindUnsubscribe:
		return "unsubscribe"
	case kindKeepalive:
		return "keepalive"
	case kindShutdown:
		return "shutdown"
	case kindInbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// step is where a task is suspended.
type step uint8

const (
	stepStart step = iota
	stepAwaitSend
	stepAwaitReply
	stepAwaitRetry
	stepAwaitRelease
)

// event resumes a suspended task.
type event uint8

const (
	evRun event = iota
	evWritten
	evFailedWriting
	evReply
	evTimeout
	evResend
)

// sessionState decides what a teardown does with a send-queue task.
type sessionState uint8

const (
	// sessionUnset tasks have no confirmed write. They stay queued only if
	// they were never started.
	sessionUnset sessionState = iota

	// sessionDoNotStore tasks are aborted on teardown.
	sessionDoNotStore

	// sessionStore tasks move to the slot of a continue session.
	sessionStore
)

// taskRef addresses a task in the arena. A ref whose generation no longer
// matches is stale and resolves to nil.
type taskRef struct {
	idx uint32
	gen uint32
}

type task struct {
	gen  uint32
	used bool

	kind    kind
	step    step
	stage   session.Stage
	id      uint16
	qos     byte
	dup     bool
	session sessionState
	timeout *scheduler.Timer

	msg     Message
	filter  string
	handler MessageHandler
	done    Done
}

// qos0 reports whether the task runs in the QoS 0 queue.
func (t *task) qos0() bool {
	switch t.kind {
	case kindConnect, kindKeepalive, kindShutdown:
		return true
	case kindPublish:
		return t.qos == 0
	default:
		return false
	}
}

type arena struct {
	tasks []*task
	free  []uint32
}

func (a *arena) alloc() (taskRef, *task) {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.tasks = append(a.tasks, &task{})
		idx = uint32(len(a.tasks) - 1) //nolint:gosec // arena never approaches 2^32 tasks
	}
	t := a.tasks[idx]
	gen := t.gen + 1
	*t = task{gen: gen, used: true}
	return taskRef{idx: idx, gen: gen}, t
}

func (a *arena) get(r taskRef) *task {
	if int(r.idx) >= len(a.tasks) {
		return nil
	}
	t := a.tasks[r.idx]
	if !t.used || t.gen != r.gen {
		return nil
	}
	return t
}

// release returns the task to the free list. Releasing a task whose
// timeout is still armed is a logic error.
func (a *arena) release(r taskRef) {
	t := a.get(r)
	if t == nil {
		return
	}
	if t.timeout.Live() {
		panic("logic: " + t.kind.String() + " task released with a live timeout")
	}
	gen := t.gen
	*t = task{gen: gen}
	a.free = append(a.free, r.idx)
}

func (a *arena) live() int {
	return len(a.tasks) - len(a.free)
}

func removeRef(refs []taskRef, r taskRef) []taskRef {
	for i, x := range refs {
		if x == r {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}
