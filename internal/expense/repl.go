package expense

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// Banner is printed once when the worker starts.
const Banner = "Welcome to Expense Tracker! Available commands:\n" +
	"  add <amount> <category> <description>\n" +
	"  view [category]\n" +
	"  delete <index>\n" +
	"  generate\n" +
	"  exit\n"

// Prompt is printed before each command when the input is a terminal.
const Prompt = "> "

// Options configures Run.
type Options struct {
	// DataDir holds expenses.json and report.yaml. It is created if missing.
	DataDir string

	// Prompt prints Prompt before reading each command.
	Prompt bool

	// Watch reloads the list when another process rewrites the data file.
	Watch bool
}

// Run loads the store from opts.DataDir and serves commands from in until
// exit, end of input or ctx cancellation between commands. Every response
// is flushed to out before the next command is read.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) error {
	w := bufio.NewWriter(out)

	store := NewStore(filepath.Join(opts.DataDir, DataFileName))
	if err := store.Load(); err != nil {
		fmt.Fprintf(w, "Error loading data: %v\n", err)
	}
	if opts.Watch {
		// The output stream is the client's console, so watch failures are
		// not reported; the worker still works without live reload.
		_ = store.Watch(ctx, nil)
	}

	return Serve(ctx, NewTracker(store, opts.DataDir), in, w, opts.Prompt)
}

// Serve runs the command loop of t over in and w.
func Serve(ctx context.Context, t *Tracker, in io.Reader, w *bufio.Writer, prompt bool) error {
	if _, err := w.WriteString(Banner); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	r := bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if prompt {
			_, _ = w.WriteString(Prompt)
			if err := w.Flush(); err != nil {
				return err
			}
		}

		line, readErr := r.ReadString('\n')
		if line == "" && readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}

		response, exit := handleSafely(t, line)
		if _, err := w.WriteString(response); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if exit || readErr != nil {
			return nil
		}
	}
}

// handleSafely turns a panicking handler into an error response so one bad
// command does not end the session.
func handleSafely(t *Tracker, line string) (response string, exit bool) {
	defer func() {
		if r := recover(); r != nil {
			response = fmt.Sprintf("Unexpected error: %v\n\n", r)
			exit = false
		}
	}()
	return t.Handle(line)
}
