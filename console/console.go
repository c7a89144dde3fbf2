// Package console is the operator command tree for virtual servers. Each
// call to Execute parses one command line and writes its outcome in-band,
// one tagged line per message:
//
//	[OK]    the command changed something
//	[INFO]  nothing to change, or a listing
//	[ERR]   the command could not be carried out
//	[USAGE] the arguments were wrong
//
// Failures are reported, never fatal.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/internal/logctx"
	"github.com/ggoodman/proxy-virtualizer-go/launcher"
	"github.com/ggoodman/proxy-virtualizer-go/sender"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// RootName is the command name shown in usage lines.
const RootName = "vserver"

// Console executes operator commands against the engine.
type Console struct {
	proxy     host.Proxy
	registry  *servers.Registry
	launcher  *launcher.Launcher
	connector *connector.Connector
	sender    *sender.Sender

	log *slog.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the console's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Console.
func New(proxy host.Proxy, registry *servers.Registry, ln *launcher.Launcher, conn *connector.Connector, snd *sender.Sender, opts ...Option) *Console {
	c := &Console{
		proxy:     proxy,
		registry:  registry,
		launcher:  ln,
		connector: conn,
		sender:    snd,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// usageError reports wrong arguments; Execute prints it as a usage line.
type usageError struct {
	usage string
}

func (e *usageError) Error() string { return "usage: " + e.usage }

// errReported marks an outcome already reported in-band with [ERR].
var errReported = errors.New("command failed")

// Execute runs line on behalf of self, which is nil for the operator
// console. Output is written to out. The returned error is non-nil when the
// command failed; it has already been reported in-band.
func (c *Console) Execute(ctx context.Context, out io.Writer, self host.Client, line string) error {
	args := strings.Fields(line)
	name := ""
	if len(args) > 0 {
		name = strings.ToLower(args[0])
	}
	ctx = logctx.WithCommandData(ctx, &logctx.CommandData{Name: name, Line: line})
	if self != nil {
		ctx = logctx.WithClientData(ctx, &logctx.ClientData{
			ClientID:        self.ID().String(),
			Username:        self.Username(),
			ProtocolVersion: self.ProtocolVersion(),
		})
	}

	r := &run{Console: c, out: out, self: self}
	root := r.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	err := root.ExecuteContext(ctx)
	var ue *usageError
	switch {
	case err == nil:
		c.log.InfoContext(ctx, "console.command.ok")
	case errors.As(err, &ue):
		r.usage("/%s %s", RootName, ue.usage)
		c.log.InfoContext(ctx, "console.command.usage")
	case errors.Is(err, errReported):
		c.log.InfoContext(ctx, "console.command.fail")
	default:
		r.errorf("%s", err.Error())
		c.log.InfoContext(ctx, "console.command.fail", slog.String("err", err.Error()))
	}
	return err
}

// run carries per-line state for the command tree.
type run struct {
	*Console
	out  io.Writer
	self host.Client
}

func (r *run) line(tag, format string, args ...any) {
	fmt.Fprintf(r.out, "[%s] %s\n", tag, fmt.Sprintf(format, args...))
}

func (r *run) success(format string, args ...any) { r.line("OK", format, args...) }
func (r *run) info(format string, args ...any)    { r.line("INFO", format, args...) }
func (r *run) usage(format string, args ...any)   { r.line("USAGE", format, args...) }

func (r *run) errorf(format string, args ...any) { r.line("ERR", format, args...) }

// fail reports an error in-band and returns errReported.
func (r *run) fail(format string, args ...any) error {
	r.errorf(format, args...)
	return errReported
}

// argsBetween validates the positional argument count. A negative hi means
// no upper bound.
func argsBetween(lo, hi int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < lo || (hi >= 0 && len(args) > hi) {
			return &usageError{usage: usage}
		}
		return nil
	}
}

func (r *run) server(name string) (*servers.Server, error) {
	s, ok := r.registry.FindByName(name)
	if !ok {
		return nil, r.fail("Virtual server not found: %s", name)
	}
	return s, nil
}

// target resolves the client a command acts on: the named one, or the
// invoking client when no name is given.
func (r *run) target(args []string, index int) (host.Client, error) {
	if len(args) > index {
		for _, c := range r.proxy.Clients() {
			if strings.EqualFold(c.Username(), args[index]) {
				return c, nil
			}
		}
		return nil, r.fail("Client not found: %s", args[index])
	}
	if r.self != nil {
		return r.self, nil
	}
	return nil, r.fail("This command requires a client argument when used from the console.")
}

func parseInt(raw, what string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", what, raw)
	}
	return v, nil
}
