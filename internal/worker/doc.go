// Package worker spawns and owns the per-session worker processes.
//
// Each client session is bound to exactly one worker process. The package
// abstracts the process behind the [Process] interface so the gateway can be
// tested against in-process fakes.
//
// # Main Types
//
//   - [Process]: a live worker (line-oriented input, merged output, liveness, termination)
//   - [Spawner]: creates Process values for new sessions
//   - [ExecSpawner] / [ExecProcess]: the os/exec implementation
//
// # Lifecycle
//
// An ExecProcess moves through Spawned, Running, Terminating and Reaped. A
// reaper goroutine waits on the child from the moment it starts, so liveness
// is observable without polling and the child never lingers as a zombie.
// Terminate sends a single termination signal and blocks until the reaper
// has collected the child. There is no escalation to a forced kill.
//
// # I/O
//
// The child's stdout and stderr share one pipe, so the output relay reads a
// single merged stream in the order the child wrote it. Input is written one
// line at a time and flushed immediately.
//
// # Basic Usage
//
//	spawner := worker.NewExecSpawner(worker.Config{
//	    Command: []string{"expensebridge", "worker", "--data-dir", "static"},
//	})
//	proc, err := spawner.Spawn(ctx)
//	if err != nil {
//	    return err
//	}
//	defer proc.Terminate()
//
//	_ = proc.WriteLine("view")
//	line, _ := bufio.NewReader(proc.Output()).ReadString('\n')
package worker
