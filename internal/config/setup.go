package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the operator through first-time configuration,
// reading answers from in and writing prompts to out.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	return runSetupWizard(cfg, bufio.NewReader(in), out, 0)
}

const maxSetupAttempts = 3

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer, attempt int) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          fragline - First Run Setup          ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	sd := cfg.GetServerData()
	ad := cfg.GetApplicationData()

	fmt.Fprintln(out, "── Server Identity ──")
	sd.Hostname = promptString(reader, out, "Hostname", sd.Hostname)
	sd.Gamedir = promptString(reader, out, "Game directory", sd.Gamedir)
	sd.MapName = promptString(reader, out, "Map", sd.MapName)
	sd.AssetDirectory = promptString(reader, out, "Asset directory (downloads)", sd.AssetDirectory)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Network ──")
	sd.Port = promptInt(reader, out, "Game port (UDP)", sd.Port)
	sd.MaxClients = promptInt(reader, out, "Maximum clients", sd.MaxClients)
	sd.Deflate = promptBool(reader, out, "Compress the join sequence for capable clients", sd.Deflate)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Anti-Automation ──")
	sd.ForceReconnect = promptString(reader, out,
		"Forced reconnect command (blank disables)", sd.ForceReconnect)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	ad.API.Port = promptInt(reader, out, "REST API port", ad.API.Port)
	ad.Security.AuthDisabled = !promptBool(reader, out, "Require a bearer token", !ad.Security.AuthDisabled)
	if !ad.Security.AuthDisabled && ad.API.Token == "" {
		ad.API.Token = uuid.NewString()
		fmt.Fprintf(out, "    Generated API token: %s\n", ad.API.Token)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	ad.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", ad.MQTT.Enabled)
	if ad.MQTT.Enabled {
		ad.MQTT.BrokerURL = promptString(reader, out, "Broker host", ad.MQTT.BrokerURL)
		ad.MQTT.Port = promptInt(reader, out, "Broker port", ad.MQTT.Port)
	}

	cfg.SetServerData(sd)
	cfg.SetApplicationData(ad)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt+1 < maxSetupAttempts {
			retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
			if strings.ToLower(retry) == "yes" {
				return runSetupWizard(cfg, reader, out, attempt+1)
			}
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
