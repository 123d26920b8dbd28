package flag

// CLI is the top-level kong command set. BootCmd is the default: running
// the binary with no subcommand boots a guest.
type CLI struct {
	Boot  BootCmd  `cmd:"" default:"1" help:"boot a guest kernel"`
	Probe ProbeCmd `cmd:"" help:"print /dev/kvm capabilities and exit"`
}

// BootCmd is the flag surface for booting a guest.
type BootCmd struct {
	Dev     string `name:"dev" default:"/dev/kvm" help:"path of the kvm device"`
	Kernel  string `name:"kernel" required:"" help:"path to the 32-bit ELF guest image"`
	Memory  string `name:"memory" default:"128M" help:"guest memory size, as number[kKmMgG] (zero rejected)"`
	Initrd  string `name:"initrd" help:"path to an optional initrd image"`
	Stderr  string `name:"stderr" help:"file the guest's diagnostic byte stream is written to (default: process stderr); with --http diagnostic bytes are dropped and this is unused"`
	Stdin   string `name:"stdin" help:"file the guest reads inbound messages from (mutually exclusive with --http)"`
	Stdout  string `name:"stdout" help:"file the guest's outbound messages are appended to (mutually exclusive with --http)"`
	HTTP    string `name:"http" help:"listen address for the HTTP message gateway (mutually exclusive with --stdin/--stdout)"`
	Profile string `name:"profile" help:"enable a CPU profile ('cpu' or 'fgprof'); off by default"`
	Trace   string `name:"trace" default:"0" help:"log every Nth vCPU instruction at RIP; 0 disables tracing"`
}

// ProbeCmd has no flags: it just dumps host capabilities.
type ProbeCmd struct{}
