package relay

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/expensebridge/internal/capture"
	bridgeerrors "github.com/Iron-Ham/expensebridge/internal/errors"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSink) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return s.err
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// failingReader yields data once, then err.
type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func waitRelay(t *testing.T, r *Relay) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
}

func TestRelay_ForwardsLinesToBothSinks(t *testing.T) {
	src := strings.NewReader("Welcome to Expense Tracker! Available commands:\n  exit\n> ")
	backlog := capture.NewBacklog(10)
	sink := &recordingSink{}

	r := New(src, backlog, sink, nil)
	r.Start()
	waitRelay(t, r)

	want := []string{
		"Welcome to Expense Tracker! Available commands:\n",
		"  exit\n",
		"> ",
	}
	assert.Equal(t, want, sink.messages())
	assert.Equal(t, want, backlog.Lines())
	assert.Equal(t, 3, r.Lines())
	assert.NoError(t, r.Err())
}

func TestRelay_ReadErrorIsReported(t *testing.T) {
	src := &failingReader{data: "first\n", err: errors.New("boom")}
	backlog := capture.NewBacklog(10)
	sink := &recordingSink{}

	r := New(src, backlog, sink, nil)
	r.Start()
	waitRelay(t, r)

	want := []string{"first\n", "Error reading output: boom\n"}
	assert.Equal(t, want, sink.messages())
	assert.Equal(t, want, backlog.Lines())
	assert.ErrorIs(t, r.Err(), bridgeerrors.ErrRelayFailed)
}

func TestRelay_KeepsDrainingWhenSinkFails(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	backlog := capture.NewBacklog(100)
	sink := &recordingSink{err: errors.New("connection closed")}

	r := New(strings.NewReader(sb.String()), backlog, sink, nil)
	r.Start()
	waitRelay(t, r)

	assert.Equal(t, 50, backlog.Len())
	assert.Len(t, sink.messages(), 50)
	assert.NoError(t, r.Err())
}

func TestRelay_StopUnblocksPendingRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sink := &recordingSink{}

	r := New(pr, capture.NewBacklog(10), sink, nil)
	r.Start()

	_, err := pw.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.NoError(t, r.Err(), "a read interrupted by Stop is not an error")
	assert.Equal(t, []string{"hello\n"}, sink.messages())
}

func TestRelay_StopIsIdempotent(t *testing.T) {
	r := New(strings.NewReader(""), capture.NewBacklog(1), &recordingSink{}, nil)
	r.Start()
	r.Stop()
	r.Stop()
	waitRelay(t, r)
}

func TestRelay_StopBeforeStart(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := New(pr, capture.NewBacklog(1), &recordingSink{}, nil)
	r.Stop()
	waitRelay(t, r)

	// Start after Stop does not launch a goroutine.
	r.Start()
	assert.Equal(t, 0, r.Lines())
}
