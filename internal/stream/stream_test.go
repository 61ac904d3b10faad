package stream_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/micro-nova/amplipi-pal/internal/models"
	"github.com/micro-nova/amplipi-pal/internal/rm"
	"github.com/micro-nova/amplipi-pal/internal/session"
	"github.com/micro-nova/amplipi-pal/internal/stream"
)

// fakeRM records what streams ask of the resource manager.
type fakeRM struct {
	mu           sync.Mutex
	state        models.CardStatus
	registered   map[string]int
	deregistered map[string]int
	ssrCalls     []models.CardStatus
	graphDepth   int
	graphLocks   int
}

func newFakeRM() *fakeRM {
	return &fakeRM{
		state:        models.CardStatusOnline,
		registered:   make(map[string]int),
		deregistered: make(map[string]int),
	}
}

func (f *fakeRM) CardState() models.CardStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRM) setCard(st models.CardStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
}

func (f *fakeRM) SoundCard() uint { return 0 }

func (f *fakeRM) PcmDeviceIDs(models.StreamType, models.Direction) []int { return []int{0} }

func (f *fakeRM) RegisterStream(s rm.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[s.ID()]++
	return nil
}

func (f *fakeRM) DeregisterStream(s rm.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered[s.ID()]++
	return nil
}

func (f *fakeRM) LockGraph() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphDepth++
	f.graphLocks++
}

func (f *fakeRM) UnlockGraph() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphDepth--
}

func (f *fakeRM) SSRHandler(st models.CardStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ssrCalls = append(f.ssrCalls, st)
	f.state = st
	return nil
}

// graph returns the current graph lock depth and how often it was taken.
func (f *fakeRM) graph() (depth, locks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.graphDepth, f.graphLocks
}

func (f *fakeRM) ssrCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ssrCalls)
}

func stereo16() models.MediaConfig {
	return models.MediaConfig{SampleRate: 48000, BitWidth: 16, Channels: 2, Format: models.FormatPCMS16LE}
}

func defaultAttrs() *models.StreamAttributes {
	return &models.StreamAttributes{
		Type:           models.StreamTypeNonTunnel,
		Direction:      models.DirectionInputOutput,
		InMediaConfig:  stereo16(),
		OutMediaConfig: stereo16(),
	}
}

// newStream builds a stream on a fake RM and a mock session.
func newStream(t *testing.T) (*stream.NonTunnel, *fakeRM, *session.Mock) {
	t.Helper()
	r := newFakeRM()
	f := session.NewMockFactory()
	s, err := stream.NewNonTunnel(defaultAttrs(), nil, r, f)
	if err != nil {
		t.Fatalf("NewNonTunnel() error = %v", err)
	}
	return s, r, f.Last()
}

// startedStream returns a stream in STARTED with the mock call log cleared
// of the setup calls.
func startedStream(t *testing.T) (*stream.NonTunnel, *fakeRM, *session.Mock) {
	t.Helper()
	s, r, m := newStream(t)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, r, m
}

func wantErrno(t *testing.T, err error, want unix.Errno) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
	if got := models.Errno(err); got != -int(want) {
		t.Errorf("Errno() = %d, want %d", got, -int(want))
	}
}

func callsAfter(calls []string, n int) []string {
	if n > len(calls) {
		return nil
	}
	return calls[n:]
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---- construction ----

func TestNewNonTunnel_NilAttributes(t *testing.T) {
	_, err := stream.NewNonTunnel(nil, nil, newFakeRM(), session.NewMockFactory())
	wantErrno(t, err, unix.EINVAL)
}

func TestNewNonTunnel_CardOffline(t *testing.T) {
	r := newFakeRM()
	r.setCard(models.CardStatusOffline)
	f := session.NewMockFactory()

	start := time.Now()
	_, err := stream.NewNonTunnel(defaultAttrs(), nil, r, f)
	wantErrno(t, err, unix.EIO)
	if elapsed := time.Since(start); elapsed < models.SSRRecovery {
		t.Errorf("offline construction returned after %v, want >= %v backoff", elapsed, models.SSRRecovery)
	}
	if len(f.Sessions()) != 0 {
		t.Error("session created while card offline")
	}
	if len(r.registered) != 0 {
		t.Error("stream registered while card offline")
	}
}

func TestNewNonTunnel_SessionCreateFailure(t *testing.T) {
	r := newFakeRM()
	f := session.NewMockFactory()
	f.FailNext(errors.New("out of memory"))

	_, err := stream.NewNonTunnel(defaultAttrs(), nil, r, f)
	if !errors.Is(err, session.ErrSessionCreate) {
		t.Fatalf("error = %v, want ErrSessionCreate", err)
	}
	if len(r.registered) != 0 {
		t.Errorf("registered = %v, want none", r.registered)
	}
}

func TestNewNonTunnel_PlainFactoryErrorIsCreateFailure(t *testing.T) {
	f := session.FactoryFunc(func(session.ResourceManager, *models.StreamAttributes) (session.Session, error) {
		return nil, errors.New("no route")
	})
	_, err := stream.NewNonTunnel(defaultAttrs(), nil, newFakeRM(), f)
	if !errors.Is(err, session.ErrSessionCreate) {
		t.Errorf("error = %v, want ErrSessionCreate", err)
	}
}

func TestNewNonTunnel_ClampsChannels(t *testing.T) {
	attrs := defaultAttrs()
	attrs.InMediaConfig.Channels = 16
	attrs.OutMediaConfig.Channels = 12
	s, err := stream.NewNonTunnel(attrs, nil, newFakeRM(), session.NewMockFactory())
	if err != nil {
		t.Fatalf("NewNonTunnel() error = %v", err)
	}
	got := s.Attributes()
	if got.InMediaConfig.Channels != models.MaxChannels || got.OutMediaConfig.Channels != models.MaxChannels {
		t.Errorf("channels = %d/%d, want %d", got.InMediaConfig.Channels, got.OutMediaConfig.Channels, models.MaxChannels)
	}
	if attrs.InMediaConfig.Channels != 16 {
		t.Error("caller's attributes were modified")
	}
}

func TestNewNonTunnel_RegistersOnce(t *testing.T) {
	s, r, _ := newStream(t)
	if r.registered[s.ID()] != 1 {
		t.Errorf("registered %d times, want 1", r.registered[s.ID()])
	}
	if s.State() != models.StateIdle || s.CachedState() != models.StateIdle {
		t.Errorf("initial state = %s/%s, want idle/idle", s.State(), s.CachedState())
	}
}

// ---- lifecycle ----

func TestLifecycle_OpenStartRead(t *testing.T) {
	s, r, m := newStream(t)

	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.State() != models.StateInit {
		t.Fatalf("state = %s, want init", s.State())
	}
	if err := s.Open(); err != nil {
		t.Errorf("second Open() = %v, want nil", err)
	}
	if s.State() != models.StateInit || m.CallCount("open") != 1 {
		t.Errorf("second Open changed state or reopened: state %s, opens %d", s.State(), m.CallCount("open"))
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.State() != models.StateStarted {
		t.Fatalf("state = %s, want started", s.State())
	}

	buf := &models.Buffer{Data: make([]byte, 1024)}
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n > 1024 || n <= 0 {
		t.Errorf("Read() = %d, want 0 < n <= 1024", n)
	}
	if m.CallCount("read") != 1 {
		t.Errorf("session reads = %d, want 1", m.CallCount("read"))
	}
	if buf.Data[0] != session.MockFill {
		t.Error("read did not come from the session")
	}
	if r.graphDepth != 0 {
		t.Errorf("graph lock depth = %d after calls, want 0", r.graphDepth)
	}
	if r.graphLocks == 0 {
		t.Error("graph lock never taken")
	}
}

func TestStart_AlreadyStartedIsNoop(t *testing.T) {
	s, _, m := startedStream(t)
	if err := s.Start(); err != nil {
		t.Errorf("Start() on started = %v, want nil", err)
	}
	if m.CallCount("start") != 1 {
		t.Errorf("session starts = %d, want 1", m.CallCount("start"))
	}
}

func TestStart_PrepareFailure(t *testing.T) {
	s, _, m := newStream(t)
	s.Open()
	m.SetFail("prepare", unix.EIO)
	err := s.Start()
	wantErrno(t, err, unix.EIO)
	if s.State() != models.StateInit {
		t.Errorf("state = %s, want init", s.State())
	}
	if m.CallCount("start") != 0 {
		t.Error("session started after prepare failed")
	}

	// Prepare may be retried.
	m.ClearFailures()
	if err := s.Start(); err != nil {
		t.Errorf("retried Start() = %v, want nil", err)
	}
}

func TestStart_SessionFailure(t *testing.T) {
	s, r, m := newStream(t)
	s.Open()
	m.SetFailStart(unix.EBUSY)
	wantErrno(t, s.Start(), unix.EBUSY)
	if s.State() != models.StateInit {
		t.Errorf("state = %s, want init", s.State())
	}
	if r.ssrCount() != 0 {
		t.Error("ordinary start failure notified the resource manager")
	}
}

func TestStop(t *testing.T) {
	s, _, m := newStream(t)

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() from idle = %v, want nil", err)
	}
	if s.State() != models.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}

	s.Open()
	wantErrno(t, s.Stop(), unix.EINVAL)
	if s.State() != models.StateInit {
		t.Errorf("state after illegal stop = %s, want init", s.State())
	}

	s.Start()
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() from stopped = %v, want nil", err)
	}
	if m.CallCount("stop") != 1 {
		t.Errorf("session stops = %d, want 1", m.CallCount("stop"))
	}
}

func TestStop_SessionFailureStillStops(t *testing.T) {
	s, _, m := startedStream(t)
	m.SetFail("stop", unix.EIO)
	wantErrno(t, s.Stop(), unix.EIO)
	if s.State() != models.StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestRestartFromStopped(t *testing.T) {
	s, _, m := startedStream(t)
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("Start() from stopped = %v", err)
	}
	if s.State() != models.StateStarted || m.CallCount("prepare") != 2 {
		t.Errorf("state %s prepares %d, want started and 2", s.State(), m.CallCount("prepare"))
	}
}

func TestIllegalTransitionsKeepState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *stream.NonTunnel)
		op    func(s *stream.NonTunnel) error
		want  models.StreamState
	}{
		{"start from idle", func(*stream.NonTunnel) {}, (*stream.NonTunnel).Start, models.StateIdle},
		{"stop from init", func(s *stream.NonTunnel) { s.Open() }, (*stream.NonTunnel).Stop, models.StateInit},
		{"open from started", func(s *stream.NonTunnel) { s.Open(); s.Start() }, (*stream.NonTunnel).Open, models.StateStarted},
		{"open from stopped", func(s *stream.NonTunnel) { s.Open(); s.Start(); s.Stop() }, (*stream.NonTunnel).Open, models.StateStopped},
		{"pause from started", func(s *stream.NonTunnel) { s.Open(); s.Start() }, (*stream.NonTunnel).Pause, models.StateStarted},
		{"resume from init", func(s *stream.NonTunnel) { s.Open() }, (*stream.NonTunnel).Resume, models.StateInit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newStream(t)
			tt.setup(s)
			wantErrno(t, tt.op(s), unix.EINVAL)
			if got := s.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestRandomWalk drives random operation sequences and checks each result
// against a model of the state machine.
func TestRandomWalk(t *testing.T) {
	type op struct {
		name string
		call func(s *stream.NonTunnel) error
		next map[models.StreamState]models.StreamState // absent: must fail
	}
	ops := []op{
		{"open", (*stream.NonTunnel).Open, map[models.StreamState]models.StreamState{
			models.StateIdle: models.StateInit, models.StateInit: models.StateInit,
		}},
		{"start", (*stream.NonTunnel).Start, map[models.StreamState]models.StreamState{
			models.StateInit: models.StateStarted, models.StateStopped: models.StateStarted,
			models.StateStarted: models.StateStarted,
		}},
		{"stop", (*stream.NonTunnel).Stop, map[models.StreamState]models.StreamState{
			models.StateStarted: models.StateStopped, models.StateStopped: models.StateStopped,
			models.StateIdle: models.StateIdle,
		}},
		{"pause", (*stream.NonTunnel).Pause, map[models.StreamState]models.StreamState{}},
	}

	seed := uint32(7)
	rnd := func(n int) int {
		seed = seed*1664525 + 1013904223
		return int(seed>>16) % n
	}

	for run := 0; run < 20; run++ {
		s, r, _ := newStream(t)
		for step := 0; step < 40; step++ {
			o := ops[rnd(len(ops))]
			before := s.State()
			err := o.call(s)
			want, legal := o.next[before]
			if legal && err != nil {
				t.Fatalf("run %d step %d: %s from %s = %v, want nil", run, step, o.name, before, err)
			}
			if !legal {
				if err == nil {
					t.Fatalf("run %d step %d: %s from %s succeeded, want error", run, step, o.name, before)
				}
				want = before
			}
			if got := s.State(); got != want {
				t.Fatalf("run %d step %d: %s from %s -> %s, want %s", run, step, o.name, before, got, want)
			}
		}
		if err := s.Close(); err != nil {
			t.Fatalf("run %d: Close() = %v", run, err)
		}
		if r.deregistered[s.ID()] != 1 || s.State() != models.StateIdle {
			t.Fatalf("run %d: deregistered %d times, state %s", run, r.deregistered[s.ID()], s.State())
		}
	}
}

// ---- close ----

func TestClose_FromEveryState(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(s *stream.NonTunnel)
		wantStops  int
		wantCloses int
	}{
		{"idle", func(*stream.NonTunnel) {}, 0, 0},
		{"init", func(s *stream.NonTunnel) { s.Open() }, 0, 1},
		{"started", func(s *stream.NonTunnel) { s.Open(); s.Start() }, 1, 1},
		{"stopped", func(s *stream.NonTunnel) { s.Open(); s.Start(); s.Stop() }, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, r, m := newStream(t)
			tt.setup(s)

			if err := s.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("second Close() = %v, want nil", err)
			}
			if s.State() != models.StateIdle {
				t.Errorf("state = %s, want idle", s.State())
			}
			if r.deregistered[s.ID()] != 1 {
				t.Errorf("deregistered %d times, want 1", r.deregistered[s.ID()])
			}
			if got := m.CallCount("stop"); got != tt.wantStops {
				t.Errorf("session stops = %d, want %d", got, tt.wantStops)
			}
			if got := m.CallCount("close"); got != tt.wantCloses {
				t.Errorf("session closes = %d, want %d", got, tt.wantCloses)
			}
		})
	}
}

func TestClose_TeardownSurvivesErrors(t *testing.T) {
	s, r, m := startedStream(t)
	m.SetFail("stop", unix.EIO)
	m.SetFailClose(unix.ENODEV)

	err := s.Close()
	if !errors.Is(err, unix.EIO) || !errors.Is(err, unix.ENODEV) {
		t.Errorf("Close() = %v, want both stop and close errors", err)
	}
	if s.State() != models.StateIdle || r.deregistered[s.ID()] != 1 {
		t.Errorf("teardown incomplete: state %s, deregistered %d", s.State(), r.deregistered[s.ID()])
	}
}

func TestClose_LaterCallsFail(t *testing.T) {
	s, _, _ := newStream(t)
	s.Close()

	wantErrno(t, s.Open(), unix.EINVAL)
	wantErrno(t, s.Start(), unix.EINVAL)
	wantErrno(t, s.Stop(), unix.EINVAL)
	_, err := s.Write(&models.Buffer{Data: make([]byte, 4)})
	wantErrno(t, err, unix.EINVAL)
	wantErrno(t, s.SetParameters(models.ParamModuleConfig, []byte{1}), unix.EINVAL)
	if err := s.SSRDownHandler(); err != nil {
		t.Errorf("SSRDownHandler on closed stream = %v, want nil", err)
	}
}

// ---- pause/resume ----

func TestPauseResumeUnsupported(t *testing.T) {
	s, _, _ := startedStream(t)
	wantErrno(t, s.Pause(), unix.EINVAL)
	wantErrno(t, s.Resume(), unix.EINVAL)
}

// ---- parameters and misc ----

func TestParameters(t *testing.T) {
	s, _, m := newStream(t)

	wantErrno(t, s.SetParameters(models.ParamModuleConfig, nil), unix.EINVAL)
	wantErrno(t, s.SetParameters(0x99, []byte{1}), unix.EINVAL)
	if m.CallCount("set_parameters") != 0 {
		t.Error("rejected parameters reached the session")
	}

	if err := s.SetParameters(models.ParamModuleConfig, []byte{1, 2, 3}); err != nil {
		t.Fatalf("SetParameters() error = %v", err)
	}
	got, err := s.GetParameters(models.ParamModuleConfig)
	if err != nil || len(got) != 3 || got[2] != 3 {
		t.Errorf("GetParameters() = %v, %v; want [1 2 3]", got, err)
	}
	_, err = s.GetParameters(0x99)
	wantErrno(t, err, unix.EINVAL)
}

func TestSetBufInfo(t *testing.T) {
	s, _, m := newStream(t)
	in := models.BufferConfig{Count: 2, Size: 480}
	out := models.BufferConfig{Count: 8, Size: 2048}
	if err := s.SetBufInfo(in, out); err != nil {
		t.Fatalf("SetBufInfo() error = %v", err)
	}
	gotIn, gotOut := m.BufferConfig()
	if gotIn != in || gotOut != out {
		t.Errorf("session buffers = %+v/%+v, want %+v/%+v", gotIn, gotOut, in, out)
	}

	wantErrno(t, s.SetBufInfo(models.BufferConfig{}, out), unix.EINVAL)

	s.Open()
	s.Start()
	wantErrno(t, s.SetBufInfo(in, out), unix.EINVAL)
}

func TestCallbackDelivery(t *testing.T) {
	s, _, m := newStream(t)

	type event struct {
		s      *stream.NonTunnel
		id     uint32
		cookie uint64
	}
	got := make(chan event, 1)
	s.RegisterCallBack(func(src *stream.NonTunnel, id uint32, data []byte, cookie uint64) {
		got <- event{src, id, cookie}
	}, 42)

	m.Emit(3, []byte{0xAA})
	select {
	case ev := <-got:
		if ev.s != s || ev.id != 3 || ev.cookie != 42 {
			t.Errorf("event = %+v, want stream, 3, 42", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestCallback_CloseFromCallback(t *testing.T) {
	s, r, m := startedStream(t)

	done := make(chan error, 1)
	s.RegisterCallBack(func(st *stream.NonTunnel, id uint32, data []byte, cookie uint64) {
		done <- st.Close()
	}, 0)

	m.Emit(1, nil)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() from callback = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() from callback did not return")
	}

	if m.IsOpen() {
		t.Error("session still open after Close()")
	}
	r.mu.Lock()
	n := r.deregistered[s.ID()]
	r.mu.Unlock()
	if n != 1 {
		t.Errorf("deregistered %d times, want 1", n)
	}
}

func TestCallback_NoDeliveryAfterClose(t *testing.T) {
	s, _, m := newStream(t)
	got := make(chan uint32, 1)
	s.RegisterCallBack(func(_ *stream.NonTunnel, id uint32, _ []byte, _ uint64) {
		got <- id
	}, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	m.Emit(9, nil)
	select {
	case id := <-got:
		t.Errorf("event %d delivered after Close()", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallback_InOrder(t *testing.T) {
	s, _, m := newStream(t)
	got := make(chan uint32, 8)
	s.RegisterCallBack(func(_ *stream.NonTunnel, id uint32, _ []byte, _ uint64) {
		got <- id
	}, 0)

	// Emit runs each delivery on its own goroutine; wait for one before
	// sending the next so the order is defined.
	for i := uint32(1); i <= 3; i++ {
		m.Emit(i, nil)
		select {
		case id := <-got:
			if id != i {
				t.Errorf("event = %d, want %d", id, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestDataPath_GraphLockNotHeld(t *testing.T) {
	s, r, m := startedStream(t)

	var mu sync.Mutex
	var depths []int
	hook := func() {
		d, _ := r.graph()
		mu.Lock()
		depths = append(depths, d)
		mu.Unlock()
	}
	m.SetHook("read", hook)
	m.SetHook("write", hook)

	buf := &models.Buffer{Data: make([]byte, 256)}
	if _, err := s.Write(buf); err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if _, err := s.Read(buf); err != nil {
		t.Fatalf("Read() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(depths) != 2 {
		t.Fatalf("hook ran %d times, want 2", len(depths))
	}
	for i, d := range depths {
		if d != 0 {
			t.Errorf("transfer %d ran with graph lock depth %d", i, d)
		}
	}
	if d, locks := r.graph(); d != 0 || locks == 0 {
		t.Errorf("graph depth = %d, locks = %d after lifecycle", d, locks)
	}
}

func TestConcurrentWriteStopClose(t *testing.T) {
	s, r, m := startedStream(t)
	if !m.IsStarted() {
		t.Fatal("session not started")
	}

	buf := &models.Buffer{Data: make([]byte, 64)}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				// Errors are expected once the stream stops or closes.
				s.Write(buf)
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Stop()
	}()
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		s.Close()
	}()
	wg.Wait()

	if m.IsStarted() || m.IsOpen() {
		t.Errorf("session started = %v, open = %v after Close()", m.IsStarted(), m.IsOpen())
	}
	if s.State() != models.StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if d, _ := r.graph(); d != 0 {
		t.Errorf("graph lock depth = %d, want 0", d)
	}
	if _, err := s.Write(buf); err == nil {
		t.Error("Write() after Close() succeeded")
	}
}

func TestFlushDrainTimestamp(t *testing.T) {
	s, _, m := startedStream(t)
	if err := s.Flush(); err != nil {
		t.Errorf("Flush() = %v", err)
	}
	if err := s.Drain(models.DrainAll); err != nil {
		t.Errorf("Drain() = %v", err)
	}
	if _, err := s.GetTimestamp(); err != nil {
		t.Errorf("GetTimestamp() = %v", err)
	}
	if _, err := s.GetTagsWithModuleInfo(); err != nil {
		t.Errorf("GetTagsWithModuleInfo() = %v", err)
	}
	if err := s.Prepare(); err != nil {
		t.Errorf("Prepare() = %v", err)
	}
	for _, op := range []string{"flush", "drain", "timestamp", "get_tags"} {
		if m.CallCount(op) != 1 {
			t.Errorf("session %s calls = %d, want 1", op, m.CallCount(op))
		}
	}
}

func TestInfo(t *testing.T) {
	s, _, _ := startedStream(t)
	info := s.Info()
	if info.ID != s.ID() || info.State != "started" || info.CachedState != "idle" {
		t.Errorf("Info() = %+v", info)
	}
}
