package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/sensorpub/internal/config"
	"github.com/nugget/sensorpub/internal/sensor"
)

// Subcommand names. A first positional argument that matches one of
// these before any "--" selects the subcommand instead of being read as
// a topic.
const (
	cmdPublish   = ""
	cmdDiscovery = "discovery"
	cmdVersion   = "version"
)

// invocation is the parsed command line.
type invocation struct {
	command     string
	positionals []string
	help        bool

	configPath string
	outputFmt  string

	battery  *int
	voltage  *int
	sensorID int

	discoveryPrefix string
	deviceClass     string

	// overrides are applied to the loaded configuration in the order
	// they appeared on the command line.
	overrides []func(*config.Config)
}

// flagSpec describes one value-taking flag. Short is matched with a
// single dash and long with two.
type flagSpec struct {
	short string
	long  string
	set   func(inv *invocation, value string) error
}

func brokerOverride(apply func(b *config.BrokerConfig, v string)) func(*invocation, string) error {
	return func(inv *invocation, v string) error {
		inv.overrides = append(inv.overrides, func(c *config.Config) { apply(&c.Broker, v) })
		return nil
	}
}

func brokerIntOverride(name string, apply func(b *config.BrokerConfig, n int)) func(*invocation, string) error {
	return func(inv *invocation, v string) error {
		n, err := parseInt(name, v)
		if err != nil {
			return err
		}
		inv.overrides = append(inv.overrides, func(c *config.Config) { apply(&c.Broker, n) })
		return nil
	}
}

func parseInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", sensor.ErrConfiguration, name, v)
	}
	return n, nil
}

var flagSpecs = []flagSpec{
	{short: "h", long: "hostname", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Host = v })},
	{short: "p", long: "port", set: brokerIntOverride("port", func(b *config.BrokerConfig, n int) { b.Port = n })},
	{short: "b", long: "battery", set: func(inv *invocation, v string) error {
		n, err := parseInt("battery", v)
		inv.battery = &n
		return err
	}},
	{short: "v", long: "voltage", set: func(inv *invocation, v string) error {
		n, err := parseInt("voltage", v)
		inv.voltage = &n
		return err
	}},
	{short: "n", long: "sensor-id", set: func(inv *invocation, v string) error {
		n, err := parseInt("sensor id", v)
		inv.sensorID = n
		return err
	}},
	{short: "o", long: "output", set: func(inv *invocation, v string) error {
		inv.outputFmt = v
		return nil
	}},
	{long: "config", set: func(inv *invocation, v string) error {
		inv.configPath = v
		return nil
	}},
	{long: "client-id", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.ClientID = v })},
	{long: "keep-alive", set: brokerIntOverride("keep-alive", func(b *config.BrokerConfig, n int) { b.KeepAliveSec = n })},
	{long: "protocol", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Protocol = v })},
	{long: "transport", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Transport = v })},
	{long: "username", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Username = v })},
	{long: "password", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Password = v })},
	{long: "confirm", set: brokerOverride(func(b *config.BrokerConfig, v string) { b.Confirm = v })},
	{long: "timeout", set: brokerIntOverride("timeout", func(b *config.BrokerConfig, n int) { b.TimeoutSec = n })},
	{long: "log-level", set: func(inv *invocation, v string) error {
		inv.overrides = append(inv.overrides, func(c *config.Config) { c.LogLevel = v })
		return nil
	}},
	{long: "log-format", set: func(inv *invocation, v string) error {
		inv.overrides = append(inv.overrides, func(c *config.Config) { c.LogFormat = v })
		return nil
	}},
	{long: "discovery-prefix", set: func(inv *invocation, v string) error {
		inv.discoveryPrefix = v
		return nil
	}},
	{long: "device-class", set: func(inv *invocation, v string) error {
		inv.deviceClass = v
		return nil
	}},
}

func lookupFlag(arg string) (*flagSpec, bool) {
	long, isLong := strings.CutPrefix(arg, "--")
	for i := range flagSpecs {
		if isLong && flagSpecs[i].long == long {
			return &flagSpecs[i], true
		}
		if !isLong && flagSpecs[i].short != "" && "-"+flagSpecs[i].short == arg {
			return &flagSpecs[i], true
		}
	}
	return nil, false
}

// parseArgs parses args by hand. Flags may come before, between or after
// positionals, take their value as the next argument or after "=", and
// stop at "--".
func parseArgs(args []string) (*invocation, error) {
	inv := &invocation{sensorID: sensor.DefaultSensorID}
	sawPositional := false
	flagsDone := false

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if flagsDone || arg == "-" || !strings.HasPrefix(arg, "-") {
			if !sawPositional && !flagsDone && (arg == cmdDiscovery || arg == cmdVersion) {
				inv.command = arg
			} else {
				inv.positionals = append(inv.positionals, arg)
			}
			sawPositional = true
			continue
		}

		switch arg {
		case "--":
			flagsDone = true
			continue
		case "--help", "-help":
			inv.help = true
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		spec, ok := lookupFlag(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown flag %s", sensor.ErrConfiguration, name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: flag %s needs a value", sensor.ErrConfiguration, name)
			}
			i++
			value = args[i]
		}
		if err := spec.set(inv, value); err != nil {
			return nil, err
		}
	}

	return inv, nil
}
