package flag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/pkg/profile"

	"github.com/nanvix/microvm/emulator"
	"github.com/nanvix/microvm/gateway"
	"github.com/nanvix/microvm/microvm"
	"github.com/nanvix/microvm/probe"
	"github.com/nanvix/microvm/vmmio"
)

// ErrMutuallyExclusiveIO is returned when both --http and one of
// --stdin/--stdout are given.
var ErrMutuallyExclusiveIO = errors.New("flag: --http is mutually exclusive with --stdin/--stdout")

// Parse parses os.Args into a CLI and runs whichever subcommand was chosen.
func Parse() error {
	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("microvm"),
		kong.Description("microvm is a minimal single-vCPU KVM hypervisor for ELF guest images"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}

// Run implements the probe subcommand: print host KVM capabilities.
func (p *ProbeCmd) Run() error {
	return probe.Capabilities("/dev/kvm")
}

// Run implements the boot subcommand: load a guest kernel (and optional
// initrd), reset the vCPU, and run it to completion.
func (b *BootCmd) Run() error {
	if b.HTTP != "" && (b.Stdin != "" || b.Stdout != "") {
		return ErrMutuallyExclusiveIO
	}

	if b.Profile != "" {
		stopProfile := startProfile(b.Profile)
		defer stopProfile()
	}

	memSize, err := ParseSize(b.Memory, "M")
	if err != nil {
		return fmt.Errorf("--memory: %w", err)
	}

	traceEvery, err := strconv.Atoi(b.Trace)
	if err != nil {
		return fmt.Errorf("--trace: %w", err)
	}

	vm, err := microvm.New(b.Dev, memSize)
	if err != nil {
		return err
	}
	defer vm.Close()

	if _, err := vm.LoadKernel(b.Kernel); err != nil {
		return err
	}

	if b.Initrd != "" {
		if _, _, err := vm.LoadInitrd(b.Initrd); err != nil {
			return err
		}
	}

	if err := vm.Reset(); err != nil {
		return err
	}

	if traceEvery > 0 {
		if err := vm.EnableTrace(traceEvery, os.Stderr); err != nil {
			return fmt.Errorf("--trace: %w", err)
		}
	}

	cb, stop, err := b.buildCallbacks()
	if err != nil {
		return err
	}
	defer stop()

	return vm.Run(cb)
}

// buildCallbacks selects the file-backed or gateway-backed I/O glue
// depending on --http vs --stdin/--stdout/--stderr, returning a shutdown
// func the caller must run once booting finishes.
func (b *BootCmd) buildCallbacks() (emulator.Callbacks, func(), error) {
	if b.HTTP != "" {
		gw := gateway.New(b.HTTP)

		ctx, cancel := notifyShutdown()

		serveErrCh := make(chan error, 1)
		go func() { serveErrCh <- gw.ListenAndServe(ctx) }()

		return vmmio.NewGatewayIO(gw), func() {
			cancel()

			if err := <-serveErrCh; err != nil {
				fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
			}
		}, nil
	}

	var (
		stdin          *os.File
		stdout, stderr *os.File
		err            error
	)

	if b.Stdin != "" {
		if stdin, err = os.Open(b.Stdin); err != nil {
			return nil, nil, fmt.Errorf("--stdin: %w", err)
		}
	}

	if b.Stdout != "" {
		if stdout, err = os.OpenFile(b.Stdout, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err != nil {
			return nil, nil, fmt.Errorf("--stdout: %w", err)
		}
	}

	if b.Stderr != "" {
		if stderr, err = os.OpenFile(b.Stderr, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err != nil {
			return nil, nil, fmt.Errorf("--stderr: %w", err)
		}
	}

	closeAll := func() {
		for _, f := range []*os.File{stdin, stdout, stderr} {
			if f != nil {
				f.Close()
			}
		}
	}

	var (
		stdinR  io.Reader
		stdoutW io.Writer
		stderrW io.Writer
	)

	if stdin != nil {
		stdinR = stdin
	}

	if stdout != nil {
		stdoutW = stdout
	}

	if stderr != nil {
		stderrW = stderr
	}

	return vmmio.NewFileIO(stdinR, stdoutW, stderrW), closeAll, nil
}

func startProfile(kind string) func() {
	var opt func(*profile.Profile)

	switch kind {
	case "fgprof":
		opt = profile.FgprofProfile
	default:
		opt = profile.CPUProfile
	}

	p := profile.Start(opt, profile.ProfilePath("."))

	return p.Stop
}

// notifyShutdown returns a context canceled on SIGINT/SIGTERM, so the
// gateway's HTTP server shuts down alongside the VMM run loop.
func notifyShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
