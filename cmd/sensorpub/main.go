// Sensorpub reports one binary sensor reading to an MQTT broker and exits.
//
// The reading is published as a small JSON object at QoS 1 with retain
// off. Battery and voltage telemetry ride along when given. The process
// exits once the publish is confirmed or has definitively failed; the
// exit status says which class of failure occurred.
//
// Usage:
//
//	sensorpub [flags] <topic> <field-name> <true|false>
//	sensorpub discovery [flags] <topic> <field-name>
//	sensorpub version [-o json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/sensorpub/internal/buildinfo"
	"github.com/nugget/sensorpub/internal/mqtt"
	"github.com/nugget/sensorpub/internal/sensor"
)

// Exit codes by failure class.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
	exitConnection    = 3
	exitPublish       = 4
	exitConfirmation  = 5
	exitSerialization = 6
)

// main builds the OS-level environment and delegates to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensorpub: %s\n", err)
	}
	os.Exit(exitCode(err))
}

// run is the real entry point. Logs go to stderr; stdout only carries
// usage and version output. Cancelling ctx abandons an in-flight
// publish with a confirmation failure.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	return runWith(ctx, stdout, stderr, args, mqtt.Open)
}

// runWith is run with the session opener injected.
func runWith(ctx context.Context, stdout, stderr io.Writer, args []string, open mqtt.OpenFunc) error {
	inv, err := parseArgs(args)
	if err != nil {
		return err
	}
	if inv.help {
		return printUsage(stdout)
	}

	switch inv.command {
	case cmdVersion:
		return runVersion(stdout, inv.outputFmt)
	case cmdDiscovery:
		return runDiscovery(ctx, stderr, inv, open)
	case cmdPublish:
		if len(args) == 0 {
			printUsage(stderr)
			return fmt.Errorf("%w: missing arguments", sensor.ErrConfiguration)
		}
		return runPublish(ctx, stderr, inv, open)
	default:
		return fmt.Errorf("%w: unknown command: %s", sensor.ErrConfiguration, inv.command)
	}
}

// exitCode maps an error returned by run to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, sensor.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, mqtt.ErrConnection):
		return exitConnection
	case errors.Is(err, mqtt.ErrPublish):
		return exitPublish
	case errors.Is(err, mqtt.ErrConfirmation):
		return exitConfirmation
	case errors.Is(err, sensor.ErrSerialization):
		return exitSerialization
	default:
		return exitFailure
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	switch outputFmt {
	case "", "text":
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	default:
		return fmt.Errorf("%w: unknown output format: %q (expected text or json)", sensor.ErrConfiguration, outputFmt)
	}

	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sensorpub - publish one binary sensor reading over MQTT")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  sensorpub [flags] <topic> <field-name> <true|false>")
	fmt.Fprintln(w, "  sensorpub discovery [flags] <topic> <field-name>")
	fmt.Fprintln(w, "  sensorpub version [-o json]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -h, --hostname <host>     Broker host (default: localhost)")
	fmt.Fprintln(w, "  -p, --port <port>         Broker port, 1-65535 (default: 1883)")
	fmt.Fprintln(w, "  -b, --battery <percent>   Battery level, 0-100")
	fmt.Fprintln(w, "  -v, --voltage <mV>        Supply voltage in millivolts, 0-4200")
	fmt.Fprintln(w, "  -n, --sensor-id <id>      Sensor id used by discovery (default: 1)")
	fmt.Fprintln(w, "  --config <path>           Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  --client-id <id>          MQTT client identifier (default: sensorpub)")
	fmt.Fprintln(w, "  --keep-alive <sec>        Keep-alive interval (default: 5)")
	fmt.Fprintln(w, "  --protocol <3.1.1|5>      MQTT protocol version (default: 3.1.1)")
	fmt.Fprintln(w, "  --transport <t>           tcp, tls, ws or wss (default: tcp)")
	fmt.Fprintln(w, "  --username <user>         Broker username")
	fmt.Fprintln(w, "  --password <pass>         Broker password")
	fmt.Fprintln(w, "  --confirm <sent|acked>    Wait for the frame to be sent or for PUBACK (default: sent)")
	fmt.Fprintln(w, "  --timeout <sec>           Connect, publish and confirm deadline (default: 10)")
	fmt.Fprintln(w, "  --log-level <level>       trace, debug, info, warn or error (default: info)")
	fmt.Fprintln(w, "  --log-format <fmt>        text or json (default: text)")
	fmt.Fprintln(w, "  --discovery-prefix <p>    Home Assistant discovery prefix (default: homeassistant)")
	fmt.Fprintln(w, "  --device-class <class>    Home Assistant device class for discovery")
	fmt.Fprintln(w, "  -o, --output <fmt>        version output: text or json")
	fmt.Fprintln(w, "  --help                    Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use -- to pass a topic that starts with '-' or names a subcommand.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  1. --config flag")
	fmt.Fprintln(w, "  2. ./sensorpub.yaml")
	fmt.Fprintln(w, "  3. ~/.config/sensorpub/config.yaml")
	fmt.Fprintln(w, "  4. /etc/sensorpub/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit status: 0 ok, 1 other, 2 configuration, 3 connection,")
	fmt.Fprintln(w, "4 publish, 5 confirmation, 6 serialization.")
	return nil
}
