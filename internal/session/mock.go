package session

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/micro-nova/amplipi-pal/internal/models"
)

// MockFill is the byte pattern a Mock session reads.
const MockFill = 0x5A

// Mock is a thread-safe in-memory session for testing and development.
type Mock struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	opened  bool
	started bool
	cb      EventCallback
	param   []byte
	written uint64
	read    uint64
	inBuf   models.BufferConfig
	outBuf  models.BufferConfig
	events  sync.WaitGroup
	hooks   map[string]func()
}

// NewMock creates a closed mock session.
func NewMock() *Mock {
	return &Mock{
		fail:   make(map[string]error),
		hooks:  make(map[string]func()),
		inBuf:  models.DefaultInBufConfig(),
		outBuf: models.DefaultOutBufConfig(),
	}
}

// SetFail makes operation op ("open", "prepare", "start", "stop", "close",
// "read", "write", "set_parameters", "drain", "flush") return err. A nil
// err clears the failure.
func (m *Mock) SetFail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// SetHook runs fn inside every "read" or "write" call, after the call is
// recorded and without the mock's lock held. A nil fn removes the hook.
func (m *Mock) SetHook(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fn == nil {
		delete(m.hooks, op)
		return
	}
	m.hooks[op] = fn
}

// SetReset makes op report a lost transport.
func (m *Mock) SetReset(op string) {
	m.SetFail(op, fmt.Errorf("mock %s: %w", op, unix.ENETRESET))
}

// SetFailStart configures Start to fail with err.
func (m *Mock) SetFailStart(err error) { m.SetFail("start", err) }

// SetFailClose configures Close to fail with err.
func (m *Mock) SetFailClose(err error) { m.SetFail("close", err) }

// ClearFailures removes every configured failure.
func (m *Mock) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = make(map[string]error)
}

// Calls returns the operations invoked so far, in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how many times op was invoked.
func (m *Mock) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// IsOpen reports whether the session is open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// IsStarted reports whether the session is started.
func (m *Mock) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Written returns the number of bytes accepted by Write.
func (m *Mock) Written() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// BufferConfig returns the last buffer geometry set.
func (m *Mock) BufferConfig() (in, out models.BufferConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inBuf, m.outBuf
}

// Emit delivers an event to the registered callback from a new goroutine.
// Close waits for pending deliveries.
func (m *Mock) Emit(eventID uint32, data []byte) {
	m.mu.Lock()
	cb := m.cb
	if cb == nil {
		m.mu.Unlock()
		return
	}
	m.events.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.events.Done()
		cb(eventID, data)
	}()
}

// record logs op and returns its configured failure. Caller holds m.mu.
func (m *Mock) record(op string) error {
	m.calls = append(m.calls, op)
	return m.fail[op]
}

func (m *Mock) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("open"); err != nil {
		return err
	}
	if m.opened {
		return models.ErrInvalidState("mock: already open")
	}
	m.opened = true
	return nil
}

func (m *Mock) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("prepare"); err != nil {
		return err
	}
	if !m.opened {
		return models.ErrInvalidState("mock: not open")
	}
	return nil
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("start"); err != nil {
		return err
	}
	if !m.opened {
		return models.ErrInvalidState("mock: not open")
	}
	if m.started {
		return models.ErrInvalidState("mock: already started")
	}
	m.started = true
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.record("stop")
	m.started = false
	return err
}

func (m *Mock) Close() error {
	m.mu.Lock()
	err := m.record("close")
	m.opened = false
	m.started = false
	m.mu.Unlock()

	m.events.Wait()
	return err
}

func (m *Mock) Read(tag int, buf *models.Buffer) (int, error) {
	m.mu.Lock()
	err := m.record("read")
	hook := m.hooks["read"]
	if err == nil {
		for i := range buf.Data {
			buf.Data[i] = MockFill
		}
		m.read += uint64(len(buf.Data))
	}
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}
	return len(buf.Data), nil
}

func (m *Mock) Write(tag int, buf *models.Buffer, flags int) (int, error) {
	m.mu.Lock()
	err := m.record("write")
	hook := m.hooks["write"]
	if err == nil {
		m.written += uint64(len(buf.Data))
	}
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}
	return len(buf.Data), nil
}

func (m *Mock) SetParameters(tagID int, id models.ParamID, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("set_parameters"); err != nil {
		return err
	}
	if id != models.ParamModuleConfig {
		return models.ErrInvalidArgument(fmt.Sprintf("mock: unsupported parameter %d", id))
	}
	m.param = append([]byte(nil), payload...)
	return nil
}

func (m *Mock) GetParameters(tagID int, id models.ParamID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_parameters"); err != nil {
		return nil, err
	}
	if id != models.ParamModuleConfig {
		return nil, models.ErrInvalidArgument(fmt.Sprintf("mock: unsupported parameter %d", id))
	}
	return append([]byte(nil), m.param...), nil
}

func (m *Mock) GetTagsWithModuleInfo() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_tags"); err != nil {
		return nil, err
	}
	return []byte{0}, nil
}

func (m *Mock) RegisterCallBack(cb EventCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
	return nil
}

func (m *Mock) Drain(t models.DrainType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("drain")
}

func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("flush")
}

func (m *Mock) GetTimestamp() (models.SessionTime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("timestamp"); err != nil {
		return models.SessionTime{}, err
	}
	return models.SessionTime{SessionTime: m.written}, nil
}

func (m *Mock) SetBufferConfig(in, out models.BufferConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inBuf, m.outBuf = in, out
	return nil
}

// MockFactory builds Mock sessions and keeps them for inspection.
type MockFactory struct {
	mu       sync.Mutex
	sessions []*Mock
	failNext error
}

// NewMockFactory creates an empty factory.
func NewMockFactory() *MockFactory {
	return &MockFactory{}
}

// FailNext makes the next MakeSession fail with err.
func (f *MockFactory) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// Sessions returns every session built so far.
func (f *MockFactory) Sessions() []*Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Mock(nil), f.sessions...)
}

// Last returns the most recent session, or nil.
func (f *MockFactory) Last() *Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *MockFactory) MakeSession(rm ResourceManager, attrs *models.StreamAttributes) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}
	m := NewMock()
	f.sessions = append(f.sessions, m)
	return m, nil
}
