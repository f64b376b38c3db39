package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/zinguo/internal/config"
)

const defaultAddr = "localhost:9000"

// cli is the state shared by every subcommand.
type cli struct {
	ctx     context.Context
	conn    *grpc.ClientConn
	out     outputMode
	timeout time.Duration
}

type command struct {
	name string
	args string
	help string
	run  func(c *cli, args []string) error
}

// errUsage makes main print the command's synopsis and exit 2.
var errUsage = errors.New("usage")

func commandTable() []command {
	return []command{
		{"status", "", "cached device state and availability", statusCmd},
		{"refresh", "", "poll the cloud now and print the result", refreshCmd},
		{"switch", "<name> on|off", "turn one switch on or off", switchCmd},
		{"comovement", "<mode>", "set the linkage mode", comovementCmd},
		{"commands", "[--limit N]", "recent commands from the audit log", commandsCmd},
		{"plugins", "list | describe <id>", "plugin registry", pluginsCmd},
		{"rpc", "services | methods <service> | call <service/method> [--data JSON]", "raw gRPC via reflection", rpcCmd},
		{"shell", "", "interactive prompt with completion", shellCmd},
	}
}

func main() {
	table := commandTable()

	global := flag.NewFlagSet("zinguo-cli", flag.ExitOnError)
	jsonOutput := global.Bool("json", false, "Print JSON output")
	timeout := global.Duration("timeout", 10*time.Second, "Request timeout")
	addrFlag := global.String("addr", "", "zinguod gRPC address (default: $ZINGUO_GRPC_ADDR, then config)")
	global.Usage = func() { printUsage(os.Stderr, table) }
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}
	cmd, ok := lookup(table, args[0])
	if !ok {
		global.Usage()
		os.Exit(2)
	}

	addr := *addrFlag
	if addr == "" {
		addr = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal(fmt.Errorf("dial %s: %w", addr, err))
	}
	defer conn.Close()

	c := &cli{ctx: ctx, conn: conn, out: outputMode{json: *jsonOutput}, timeout: *timeout}
	if err := cmd.run(c, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: zinguo-cli %s %s\n", cmd.name, cmd.args)
			os.Exit(2)
		}
		fatal(fmt.Errorf("%s: %w", cmd.name, err))
	}
}

func lookup(table []command, name string) (command, bool) {
	for _, cmd := range table {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer, table []command) {
	fmt.Fprintln(w, "zinguo-cli [--json] [--timeout 10s] [--addr host:port] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range table {
		synopsis := strings.TrimSpace(cmd.name + " " + cmd.args)
		fmt.Fprintf(w, "  %-40s %s\n", synopsis, cmd.help)
	}
}

// resolveAddr prefers $ZINGUO_GRPC_ADDR, then the first readable config.
func resolveAddr() string {
	if value := os.Getenv("ZINGUO_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		cfg, err := config.Load(path)
		if err != nil {
			continue
		}
		return dialAddr(cfg.Core.GRPCAddr)
	}
	return defaultAddr
}

func configSearchPaths() []string {
	var paths []string
	if value := os.Getenv("ZINGUO_CONFIG"); value != "" {
		paths = append(paths, value)
	}
	paths = append(paths, config.DefaultPath)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "zinguo", "config.yaml"))
	}
	return paths
}

// dialAddr turns a wildcard listen address into something dialable.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return net.JoinHostPort("localhost", port)
	}
	return listen
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
