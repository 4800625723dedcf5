package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gohome-flair/internal/server"
)

const defaultAddr = "localhost:9000"

func main() {
	global := flag.NewFlagSet("gohome-flair-cli", flag.ExitOnError)
	addr := global.String("addr", envOrDefault("GOHOME_FLAIR_GRPC_ADDR", defaultAddr), "gRPC address of gohome-flair")
	jsonOutput := global.Bool("json", false, "print JSON instead of tables")
	timeout := global.Duration("timeout", 30*time.Second, "overall request timeout")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", *addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "thermostats", "t":
		thermostatsCmd(ctx, conn, args[1:], *jsonOutput)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
	if err != nil {
		fatal("list services", err)
	}
	for _, service := range services {
		fmt.Println(service)
	}
}

// methodsCmd lists a service's methods, ThermostatService by default.
func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	service := server.ThermostatServiceName
	if len(args) > 0 {
		service = args[0]
	}
	methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), service)
	if err != nil {
		fatal("list methods", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
}

// callCmd invokes any method through reflection. A bare method name is
// resolved against ThermostatService, and --device injects the id of a
// thermostat named by name or id.
func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	device := flags.String("device", "", "thermostat name or id to set as the request id")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (e.g. ListThermostats or service/method)"))
	}
	method := remaining[0]
	if !strings.ContainsAny(method, "/.") {
		method = server.ThermostatServiceName + "/" + method
	}

	body, err := requestBody(*data)
	if err != nil {
		fatal("read request", err)
	}
	if *device != "" {
		body, err = withDeviceID(body, lookupDevice(ctx, conn, *device))
		if err != nil {
			fatal("call", err)
		}
	}

	descSource := reflectionSource(ctx, conn)
	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, descSource, bytes.NewReader(body), grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, descSource, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, descSource, conn, method, nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
}

// requestBody returns --data, else piped stdin, else an empty object.
func requestBody(data string) ([]byte, error) {
	switch {
	case data != "":
		return []byte(data), nil
	case isStdinTerminal():
		return []byte("{}"), nil
	default:
		return io.ReadAll(os.Stdin)
	}
}

// withDeviceID sets "id" on a JSON object request body.
func withDeviceID(body []byte, id string) ([]byte, error) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("request body must be a JSON object: %w", err)
		}
	}
	fields["id"] = id
	return json.Marshal(fields)
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

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func usage() {
	fmt.Println("gohome-flair-cli [--addr host:port] [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  thermostats list")
	fmt.Println("  thermostats get <name|id>")
	fmt.Println("  thermostats mode <name|id> <off|cool|heat|auto>")
	fmt.Println("  thermostats temp <name|id> [celsius]")
	fmt.Println("  thermostats discover")
	fmt.Println("  services")
	fmt.Println("  methods [service]                (default gohome.flair.v1.ThermostatService)")
	fmt.Println("  call <method> [--device <name|id>] --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
