package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/manager"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/spinner"
	"github.com/jmgilman/constructor-manager/internal/task"
)

func requireManager(ctx context.Context) (*manager.Manager, error) {
	if m := ManagerFromContext(ctx); m != nil {
		return m, nil
	}
	if mgrErr != nil {
		return nil, fmt.Errorf("update manager unavailable: %w", mgrErr)
	}
	return nil, errors.New("update manager not initialized")
}

func requireLayout(ctx context.Context) (*prefix.Layout, error) {
	if l := LayoutFromContext(ctx); l != nil {
		return l, nil
	}
	if mgrErr != nil {
		return nil, fmt.Errorf("installation prefix unavailable: %w", mgrErr)
	}
	return nil, errors.New("installation prefix not resolved")
}

// parseSpecArg parses the command's version spec argument
// ("name", "name=version", or "name=version=build-glob").
func parseSpecArg(arg string) (conda.VersionSpec, error) {
	spec, err := conda.ParseSpec(arg)
	if err != nil {
		return conda.VersionSpec{}, err
	}
	return spec, nil
}

// errorDocument is the JSON document a failed operation emits.
type errorDocument struct {
	Error string `json:"error"`
}

// emitJSON writes the operation's result document to standard output.
func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// runTask runs fn as a cancellable unit of work. An interrupt signal
// requests cancellation; the operation stops at the next step boundary and
// its terminal result is still returned.
func runTask[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	t := task.Go(ctx, fn)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	select {
	case <-sig:
		t.Cancel()
		<-t.Done()
	case <-t.Done():
	}
	return t.Wait()
}

// interruptContext derives a context cancelled by an interrupt signal, for
// commands that stream until the user stops them.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// progressSink renders step progress on standard error: a live spinner on a
// terminal, one line per step otherwise. Events are rendered best-effort
// and never block the operation.
type progressSink struct {
	sp   *spinner.Spinner
	done chan struct{}
}

func newProgressSink() *progressSink {
	p := &progressSink{}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		p.sp = spinner.New(nil)
		p.done = make(chan struct{})
		go func() {
			defer close(p.done)
			_ = p.sp.Start()
		}()
	}
	return p
}

// Handle renders one progress event.
func (p *progressSink) Handle(e install.Event) {
	line := fmt.Sprintf("%s %s: %s", e.Step, e.Target, e.Outcome)
	if p.sp != nil {
		p.sp.Status(line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

// Close stops the spinner and waits for the display to clear.
func (p *progressSink) Close() {
	if p.sp == nil {
		return
	}
	p.sp.Stop()
	<-p.done
}
