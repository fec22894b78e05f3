package gateway

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/event"
	"github.com/Iron-Ham/expensebridge/internal/expense"
	"github.com/Iron-Ham/expensebridge/internal/logging"
	"github.com/Iron-Ham/expensebridge/internal/testutil"
	"github.com/Iron-Ham/expensebridge/internal/worker"
)

func newTestGateway(t *testing.T) (*Gateway, *testutil.PipeSpawner) {
	t.Helper()
	spawner := testutil.NewPipeSpawner(t)
	g := New(spawner)
	t.Cleanup(g.Shutdown)
	return g, spawner
}

func connect(t *testing.T, g *Gateway, id string) *testutil.RecordingChannel {
	t.Helper()
	ch := &testutil.RecordingChannel{}
	require.NoError(t, g.Connect(context.Background(), id, ch))
	ch.WaitForText(t, expense.Banner)
	return ch
}

func TestConnect_SendsWelcomeAndBanner(t *testing.T) {
	g, _ := newTestGateway(t)
	ch := connect(t, g, "s1")

	msgs := ch.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, MsgWelcome, msgs[0], "welcome precedes worker output")
	assert.Equal(t, 1, g.Sessions())

	s, ok := g.Session("s1")
	require.True(t, ok)
	assert.True(t, s.Alive())
	assert.Eventually(t, func() bool { return s.Backlog().Len() == 6 }, testutil.DefaultWait, 10*time.Millisecond)
}

func TestCommand_AddAndView(t *testing.T) {
	g, _ := newTestGateway(t)
	ch := connect(t, g, "s1")

	require.NoError(t, g.Command("s1", ch, "view"))
	ch.WaitForMessage(t, "No expenses to show.\n")

	require.NoError(t, g.Command("s1", ch, "add 12.50 food lunch"))
	ch.WaitForMessage(t, "Expense added successfully: 12.5 food - lunch\n")
}

func TestCommand_NoSession(t *testing.T) {
	g, spawner := newTestGateway(t)
	ch := &testutil.RecordingChannel{}

	err := g.Command("ghost", ch, "view")

	assert.ErrorIs(t, err, errors.ErrNoActiveSession)
	assert.Equal(t, []string{MsgNoSession}, ch.Messages())
	assert.Empty(t, spawner.Processes(), "no worker is touched")
}

func TestCommand_SessionExpired(t *testing.T) {
	g, spawner := newTestGateway(t)
	ch := connect(t, g, "s1")

	require.NoError(t, g.Command("s1", ch, "exit"))
	ch.WaitForMessage(t, "Goodbye!\n")

	proc := spawner.Processes()[0]
	select {
	case <-proc.Done():
	case <-time.After(testutil.DefaultWait):
		t.Fatal("worker did not exit")
	}

	err := g.Command("s1", ch, "view")
	assert.ErrorIs(t, err, errors.ErrSessionExpired)
	ch.WaitForMessage(t, MsgSessionExpired)

	// A dead worker keeps its entry until the client disconnects.
	assert.Equal(t, 1, g.Sessions())
	require.NoError(t, g.Disconnect("s1"))
	assert.Equal(t, 0, g.Sessions())
}

func TestConnect_SpawnFailure(t *testing.T) {
	g, spawner := newTestGateway(t)
	spawner.Err = fmt.Errorf("exec: \"expensebridge\": executable file not found in $PATH")
	ch := &testutil.RecordingChannel{}

	err := g.Connect(context.Background(), "s1", ch)

	assert.ErrorIs(t, err, errors.ErrSpawnFailed)
	assert.Equal(t, []string{MsgConnectFailed(spawner.Err)}, ch.Messages())
	assert.Equal(t, 0, g.Sessions())

	// Commands for a session that never started are rejected.
	_ = g.Command("s1", ch, "view")
	ch.WaitForMessage(t, MsgNoSession)
}

func TestConnect_DuplicateKeepsExistingWorker(t *testing.T) {
	g, spawner := newTestGateway(t)
	ch := connect(t, g, "s1")

	second := &testutil.RecordingChannel{}
	err := g.Connect(context.Background(), "s1", second)

	assert.ErrorIs(t, err, errors.ErrSessionExists)
	assert.Equal(t, []string{MsgSessionActive}, second.Messages())
	assert.Len(t, spawner.Processes(), 1)

	require.NoError(t, g.Command("s1", ch, "view"))
	ch.WaitForMessage(t, "No expenses to show.\n")
}

func TestDisconnect_Idempotent(t *testing.T) {
	g, spawner := newTestGateway(t)
	ch := connect(t, g, "s1")

	require.NoError(t, g.Disconnect("s1"))
	require.NoError(t, g.Disconnect("s1"))
	require.NoError(t, g.Disconnect("never-existed"))

	assert.False(t, spawner.Processes()[0].Alive())

	err := g.Command("s1", ch, "view")
	assert.ErrorIs(t, err, errors.ErrNoActiveSession)
}

func TestSessionsAreIsolated(t *testing.T) {
	g, _ := newTestGateway(t)
	chA := connect(t, g, "a")
	chB := connect(t, g, "b")

	require.NoError(t, g.Command("a", chA, "add 1 coffee flat white"))
	chA.WaitForText(t, "Expense added successfully: 1.0 coffee - flat white\n")

	require.NoError(t, g.Command("b", chB, "add 2 books novel"))
	chB.WaitForText(t, "Expense added successfully: 2.0 books - novel\n")

	assert.NotContains(t, chB.Text(), "flat white")
	assert.NotContains(t, chA.Text(), "novel")

	require.NoError(t, g.Disconnect("a"))
	require.NoError(t, g.Command("b", chB, "view books"))
	chB.WaitForText(t, "books: $2.00 (novel)\n")
}

func TestDisconnectDuringOutput(t *testing.T) {
	g, _ := newTestGateway(t)
	ch := connect(t, g, "s1")

	for i := 0; i < 20; i++ {
		require.NoError(t, g.Command("s1", ch, fmt.Sprintf("add %d food item%d", i+1, i)))
	}
	// Client goes away while the worker may still be writing.
	ch.Close()
	for i := 0; i < 20; i++ {
		_ = g.Command("s1", ch, "view")
	}

	done := make(chan error, 1)
	go func() { done <- g.Disconnect("s1") }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testutil.DefaultWait):
		t.Fatal("Disconnect hung")
	}
	assert.Equal(t, 0, g.Sessions())
}

func TestShutdown_TearsDownAll(t *testing.T) {
	g, spawner := newTestGateway(t)
	for i := 0; i < 5; i++ {
		connect(t, g, fmt.Sprintf("s%d", i))
	}
	require.Equal(t, 5, g.Sessions())

	g.Shutdown()

	assert.Equal(t, 0, g.Sessions())
	for _, p := range spawner.Processes() {
		assert.False(t, p.Alive())
	}
}

func TestConcurrentSessions(t *testing.T) {
	g, _ := newTestGateway(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", n)
			ch := &testutil.RecordingChannel{}
			if !assert.NoError(t, g.Connect(context.Background(), id, ch)) {
				return
			}
			assert.NoError(t, g.Command(id, ch, fmt.Sprintf("view cat%d", n)))
			ch.WaitForText(t, "No expenses to show.\n")
			assert.NoError(t, g.Disconnect(id))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, g.Sessions())
}

func TestLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	var types []string
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		types = append(types, e.EventType())
		mu.Unlock()
	})

	g := New(testutil.NewPipeSpawner(t), WithEventBus(bus), WithBacklogLines(3))
	t.Cleanup(g.Shutdown)

	ch := connect(t, g, "s1")
	_ = g.Command("missing", ch, "view")
	require.NoError(t, g.Disconnect("s1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{event.TypeSessionStarted, event.TypeCommandRejected, event.TypeSessionEnded}, types)
}

func TestBacklogLimit(t *testing.T) {
	g := New(testutil.NewPipeSpawner(t), WithBacklogLines(2))
	t.Cleanup(g.Shutdown)

	connect(t, g, "s1")
	s, ok := g.Session("s1")
	require.True(t, ok)

	assert.Eventually(t, func() bool { return s.Backlog().Dropped() == 4 }, testutil.DefaultWait, 10*time.Millisecond)
	assert.Equal(t, []string{"  generate\n", "  exit\n"}, s.Backlog().Lines())
}

// failingWriteProcess is a live worker whose stdin is broken.
type failingWriteProcess struct {
	*testutil.PipeProcess
}

func (failingWriteProcess) WriteLine(string) error {
	return fmt.Errorf("write |1: broken pipe")
}

type failingWriteSpawner struct {
	dataDir string
}

func (s failingWriteSpawner) Spawn(context.Context) (worker.Process, error) {
	return failingWriteProcess{testutil.NewPipeProcess(s.dataDir)}, nil
}

func TestCommand_WriteFailure(t *testing.T) {
	g := New(failingWriteSpawner{dataDir: t.TempDir()})
	t.Cleanup(g.Shutdown)
	ch := connect(t, g, "s1")

	err := g.Command("s1", ch, "view")

	require.Error(t, err)
	ch.WaitForMessage(t, "Error processing command: write |1: broken pipe\n")
	assert.Equal(t, 1, g.Sessions(), "a failed write does not end the session")
}

func TestCommand_ConcurrentWritesStayWhole(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	g := New(worker.NewExecSpawner(worker.Config{Command: []string{"cat"}}))
	t.Cleanup(g.Shutdown)
	ch := &testutil.RecordingChannel{}
	require.NoError(t, g.Connect(context.Background(), "s1", ch))

	const writers = 64
	// Each line is larger than the pipe's atomic write size.
	payload := func(n int) string {
		return fmt.Sprintf("%03d:%s", n, strings.Repeat(string(rune('a'+n%26)), 8000))
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, g.Command("s1", ch, payload(n)))
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(ch.Messages()) == writers+1 },
		testutil.DefaultWait, 10*time.Millisecond)

	msgs := ch.Messages()
	assert.Equal(t, MsgWelcome, msgs[0])
	want := make(map[string]bool, writers)
	for i := 0; i < writers; i++ {
		want[payload(i)+"\n"] = true
	}
	got := make(map[string]bool, writers)
	for _, m := range msgs[1:] {
		assert.True(t, want[m], "echoed line is one whole command (len %d)", len(m))
		got[m] = true
	}
	assert.Len(t, got, writers)

	s, ok := g.Session("s1")
	require.True(t, ok)
	assert.Equal(t, writers, s.Relay().Lines())
}

func TestRejectionLogLevels(t *testing.T) {
	var buf testutil.SyncBuffer
	g := New(failingWriteSpawner{dataDir: t.TempDir()}, WithLogger(logging.New(&buf, "debug")))
	t.Cleanup(g.Shutdown)

	_ = g.Command("ghost", &testutil.RecordingChannel{}, "view")
	assert.Contains(t, buf.String(), `"level":"WARN","msg":"command rejected"`)
	assert.NotContains(t, buf.String(), `"level":"ERROR"`, "a missing session is not an error")

	ch := connect(t, g, "s1")
	dup := g.Connect(context.Background(), "s1", &testutil.RecordingChannel{})
	assert.Equal(t, errors.SeverityWarning, errors.GetSeverity(dup))
	assert.Contains(t, buf.String(), `"level":"WARN","msg":"connect for active session"`)

	err := g.Command("s1", ch, "view")
	assert.Equal(t, errors.SeverityError, errors.GetSeverity(err))
	assert.Contains(t, buf.String(), `"level":"ERROR","msg":"command rejected"`)
	assert.Contains(t, buf.String(), "broken pipe")
}
