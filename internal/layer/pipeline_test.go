package layer

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// recorder forwards everything and logs what it saw.
type recorder struct {
	Passthrough
	name string
	log  *[]string
}

func (r *recorder) note(op Op, in status.Code) {
	*r.log = append(*r.log, r.name+"."+op.String()+":"+in.String())
}

func (r *recorder) Push(l *Link, data any, in status.Code) status.Code {
	r.note(OpPush, in)
	return r.Passthrough.Push(l, data, in)
}

func (r *recorder) Pull(l *Link, data any, in status.Code) status.Code {
	r.note(OpPull, in)
	return r.Passthrough.Pull(l, data, in)
}

func (r *recorder) Init(l *Link, data any, in status.Code) status.Code {
	r.note(OpInit, in)
	return r.Passthrough.Init(l, data, in)
}

func (r *recorder) CloseExternally(l *Link, data any, in status.Code) status.Code {
	r.note(OpCloseExternally, in)
	return r.Passthrough.CloseExternally(l, data, in)
}

func newTestPipeline(t *testing.T, names ...string) (*Pipeline, *scheduler.Scheduler, *[]string) {
	t.Helper()

	s := scheduler.New()
	log := &[]string{}
	descs := make([]Descriptor, 0, len(names))
	for _, n := range names {
		descs = append(descs, Descriptor{Name: n, Layer: &recorder{name: n, log: log}})
	}
	p, err := New(s, descs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, s, log
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_Links(t *testing.T) {
	p, _, _ := newTestPipeline(t, "io", "codec", "app")

	if p.Bottom().Name() != "io" || p.Top().Name() != "app" {
		t.Errorf("Bottom/Top = %s/%s, want io/app", p.Bottom().Name(), p.Top().Name())
	}
	codec := p.Link("codec")
	if codec.Prev() != p.Bottom() || codec.Next() != p.Top() {
		t.Error("codec link neighbours are wrong")
	}
	if p.Bottom().Prev() != nil || p.Top().Next() != nil {
		t.Error("edge links must have no outer neighbour")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(scheduler.New(), nil); !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("New(nil) error = %v, want ErrEmptyPipeline", err)
	}
	if _, err := New(scheduler.New(), []Descriptor{{Name: "x"}}); err == nil {
		t.Error("New() with nil layer expected error")
	}
}

// =============================================================================
// Deferred Execution Tests
// =============================================================================

func TestPush_TravelsDownThroughScheduler(t *testing.T) {
	p, s, log := newTestPipeline(t, "io", "codec", "app")

	p.Top().PushOnPrev("msg", status.OK)
	if len(*log) != 0 {
		t.Fatalf("layer ran before Step: %v", *log)
	}

	s.Step(0)

	want := []string{"codec.push:ok", "io.push:ok"}
	if len(*log) != len(want) {
		t.Fatalf("log = %v, want %v", *log, want)
	}
	for i := range want {
		if (*log)[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, (*log)[i], want[i])
		}
	}
}

func TestPull_TravelsUp(t *testing.T) {
	p, s, log := newTestPipeline(t, "io", "codec", "app")

	p.Bottom().PullOnNext([]byte{1}, status.OK)
	s.Step(0)

	if len(*log) != 2 || (*log)[0] != "codec.pull:ok" || (*log)[1] != "app.pull:ok" {
		t.Errorf("log = %v, want [codec.pull:ok app.pull:ok]", *log)
	}
}

func TestMissingNeighbourIsNoOp(t *testing.T) {
	p, s, _ := newTestPipeline(t, "only")

	if got := p.Top().PushOnPrev(nil, status.OK); got != status.OK {
		t.Errorf("PushOnPrev() = %v, want ok", got)
	}
	if ready, _ := s.Pending(); ready != 0 {
		t.Errorf("Pending() ready = %d, want 0", ready)
	}
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		current State
		op      Op
		in      status.Code
		want    State
	}{
		{"init", None, OpInit, status.OK, Connecting},
		{"connect ok", Connecting, OpConnect, status.OK, Connected},
		{"connect failed", Connecting, OpConnect, status.SocketError, Closed},
		{"close from connected", Connected, OpClose, status.OK, Closing},
		{"close from connecting", Connecting, OpClose, status.OK, Connecting},
		{"close externally", Connected, OpCloseExternally, status.Timeout, Closed},
		{"push", Connected, OpPush, status.OK, Connected},
		{"pull", Connecting, OpPull, status.OK, Connecting},
		{"post connect", Connected, OpPostConnect, status.OK, Connected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextState(tt.current, tt.op, tt.in); got != tt.want {
				t.Errorf("nextState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateAppliesToCaller(t *testing.T) {
	p, s, _ := newTestPipeline(t, "io", "app")

	p.Top().InitOnPrev(nil, status.OK)
	if got := p.Top().State(); got != Connecting {
		t.Errorf("caller State() = %v, want connecting", got)
	}
	if got := p.Bottom().State(); got != None {
		t.Errorf("target State() = %v, want none", got)
	}
	s.Step(0)
}

func TestCloseExternally_DroppedOnClosedLayer(t *testing.T) {
	p, s, log := newTestPipeline(t, "io", "codec", "app")

	p.Bottom().CloseExternallyOnNext(nil, status.ConnectionResetByPeer)
	s.Step(0)
	p.Bottom().CloseExternallyOnNext(nil, status.ConnectionResetByPeer)
	s.Step(1)

	want := []string{
		"codec.close_externally:connection reset by peer",
		"app.close_externally:connection reset by peer",
	}
	if len(*log) != len(want) {
		t.Fatalf("log = %v, want %v", *log, want)
	}
	if got := p.Link("codec").State(); got != Closed {
		t.Errorf("codec State() = %v, want closed", got)
	}
}

func TestObserver(t *testing.T) {
	var seen []Transition
	s := scheduler.New()
	p, err := New(s, []Descriptor{
		{Name: "io", Layer: Passthrough{}},
		{Name: "app", Layer: Passthrough{}},
	}, WithObserver(func(tr Transition) { seen = append(seen, tr) }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p.Top().InitOnPrev(nil, status.OK)

	if len(seen) != 1 {
		t.Fatalf("observer saw %d transitions, want 1", len(seen))
	}
	tr := seen[0]
	if tr.From != "app" || tr.To != "io" || tr.Op != OpInit || tr.State != Connecting {
		t.Errorf("transition = %+v", tr)
	}
}
