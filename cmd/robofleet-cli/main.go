package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/robofleet/internal/config"
	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/rpc"
)

func main() {
	flags := pflag.NewFlagSet("robofleet-cli", pflag.ExitOnError)
	flags.SetInterspersed(false)
	addr := flags.String("addr", "", "daemon gRPC address (default from ROBOFLEET_GRPC_ADDR or config)")
	jsonOutput := flags.Bool("json", false, "print JSON instead of tables")
	timeout := flags.Duration("timeout", 10*time.Second, "per-command timeout")
	flags.Usage = usage
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	target := *addr
	if target == "" {
		target = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", target, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	out := outputMode{json: *jsonOutput}
	client := rpc.NewClient(conn)

	switch args[0] {
	case "session", "status":
		sessionCmd(ctx, client, out)
	case "select":
		selectCmd(ctx, client, args[1:], out)
	case "deselect":
		state, err := client.Deselect(ctx)
		if err != nil {
			fatal("deselect", err)
		}
		out.session(state)
	case "acquire":
		res, err := client.Acquire(ctx)
		if err != nil {
			fatal("acquire", err)
		}
		out.result("acquire", res)
	case "release":
		res, err := client.Release(ctx)
		if err != nil {
			fatal("release", err)
		}
		out.result("release", res)
	case "send":
		sendCmd(ctx, client, args[1:], out)
	case "robots":
		robotsCmd(ctx, client, args[1:], out)
	case "notifications":
		notificationsCmd(ctx, client, args[1:], out)
	case "access":
		accessCmd(ctx, client, args[1:], out)
	case "components":
		componentsCmd(ctx, client, out)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "invoke":
		invokeCmd(ctx, client, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func sessionCmd(ctx context.Context, client *rpc.Client, out outputMode) {
	state, err := client.Session(ctx)
	if err != nil {
		fatal("session", err)
	}
	out.session(state)
}

func selectCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("select", fmt.Errorf("usage: robofleet-cli select <robot id or name>"))
	}
	robotID := resolveRobot(ctx, client, args[0])
	state, err := client.Select(ctx, robotID)
	if err != nil {
		fatal("select", err)
	}
	out.session(state)
}

func sendCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("send", fmt.Errorf("usage: robofleet-cli send <%s>", commandNames("|")))
	}
	res, err := client.Send(ctx, args[0])
	if err != nil {
		fatal("send", err)
	}
	out.result("send "+args[0], res)
}

func componentsCmd(ctx context.Context, client *rpc.Client, out outputMode) {
	resp, err := client.Components(ctx)
	if err != nil {
		fatal("list components", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	rows := [][]string{{"ID", "NAME", "STATUS", "MESSAGE"}}
	for _, c := range resp.Components {
		rows = append(rows, []string{c.ID, c.DisplayName, string(c.Status), c.HealthMessage})
	}
	out.table(rows)
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

// methodsCmd only resolves services that ship protobuf descriptors, such
// as grpc.health.v1.Health.
func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}

	descSource := reflectionSource(ctx, conn)
	methods, err := grpcurl.ListMethods(descSource, args[0])
	if err != nil {
		fatal("list methods", err)
	}

	for _, method := range methods {
		fmt.Println(method)
	}
}

// invokeCmd sends raw JSON to any FleetService or Registry method.
func invokeCmd(ctx context.Context, client *rpc.Client, args []string) {
	flags := pflag.NewFlagSet("invoke", pflag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("invoke", fmt.Errorf("missing method (service/method)"))
	}
	service, method, ok := strings.Cut(strings.TrimPrefix(remaining[0], "/"), "/")
	if !ok {
		fatal("invoke", fmt.Errorf("method must look like service/method"))
	}

	var body []byte
	switch {
	case *data != "":
		body = []byte(*data)
	case isStdinTerminal():
		body = []byte("{}")
	default:
		read, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatal("read stdin", err)
		}
		body = read
	}
	if !json.Valid(body) {
		fatal("invoke", fmt.Errorf("request body is not valid JSON"))
	}

	var resp json.RawMessage
	if err := client.Invoke(ctx, service, method, json.RawMessage(body), &resp); err != nil {
		fatal("invoke", err)
	}
	outputMode{json: true}.printJSON(resp)
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv("ROBOFLEET_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return config.DefaultGRPCAddr
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "robofleet", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}

func usage() {
	fmt.Println("robofleet-cli [--addr host:port] [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  session")
	fmt.Println("  select <robot>")
	fmt.Println("  deselect")
	fmt.Println("  acquire | release")
	fmt.Printf("  send <command>   (%s)\n", commandNames(", "))
	fmt.Println("  robots [list | rename <robot> <name> | delete <robot>]")
	fmt.Println("  notifications [list | sync [--replace] | read <id> | delete <id> | clear | settings [type=on|off ...]]")
	fmt.Println("  access [list | approve <request_id> | deny <request_id>]")
	fmt.Println("  components")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  invoke <service/method> --data '{}' (or pipe JSON via stdin)")
}

func commandNames(sep string) string {
	names := make([]string, 0, len(fleet.Commands()))
	for _, cmd := range fleet.Commands() {
		names = append(names, string(cmd))
	}
	return strings.Join(names, sep)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
