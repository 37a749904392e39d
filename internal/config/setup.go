package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxSetupAttempts bounds how often the wizard asks again after the
// answers fail validation.
const maxSetupAttempts = 3

// RunSetupWizard asks for the essential node settings on in, echoing
// prompts to out, then validates and saves the configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            battlewire - Node Setup           ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Press enter to keep the value in brackets.  ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	for attempt := 1; ; attempt++ {
		w.ask(cfg)

		result := Validate(cfg)
		if result.IsValid() {
			for _, warn := range result.Warnings {
				log.Warn().Str("field", warn.Field).Msg(warn.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt == maxSetupAttempts || !w.promptBool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintf(out, "  battlewire will start as a %s node.\n", cfg.Network.Role)
	fmt.Fprintln(out)
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func (w *wizard) ask(cfg *Config) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Node Identity ──")

	cfg.Network.Role = strings.ToLower(w.promptString(
		"Role (standalone, server, client)", cfg.Network.Role))
	cfg.Network.Name = w.promptString("Node name", cfg.Network.Name)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Network ──")

	switch cfg.Network.Role {
	case RoleServer:
		cfg.Network.ListenAddress = w.promptString("Listen address (TCP)", cfg.Network.ListenAddress)
		cfg.Network.MaxPeers = w.promptInt("Maximum peers", cfg.Network.MaxPeers)
		cfg.Discovery.Enabled = w.promptBool("Answer LAN discovery", cfg.Discovery.Enabled)
	case RoleClient:
		cfg.Network.ServerAddress = w.promptString(
			"Server address (host:port or ws://host:port/ws)", cfg.Network.ServerAddress)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── REST API ──")

	cfg.API.Enabled = w.promptBool("Enable REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.promptInt("REST API port", cfg.API.Port)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Journal & Telemetry ──")

	cfg.Journal.Enabled = w.promptBool("Record routing journal", cfg.Journal.Enabled)
	cfg.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.promptString("MQTT broker host", cfg.MQTT.BrokerURL)
	}
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
