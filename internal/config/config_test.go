package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.IsFirstRun())
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.FileExists(t, cfg.Path())

	again, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, again.IsFirstRun())
	assert.Equal(t, cfg.GetServerData().MapName, again.GetServerData().MapName)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"server_data": {"hostname": "frag.example", "max_clients": 8}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	sd := cfg.GetServerData()
	assert.Equal(t, "frag.example", sd.Hostname)
	assert.Equal(t, 8, sd.MaxClients)
	assert.Equal(t, "q2dm1", sd.MapName, "missing keys keep their default")
	assert.Equal(t, 1, sd.Downloads.Maps)

	// the re-save writes the full set of keys back
	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"audit_retention_days"`)
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestUpdateServerField(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdateServerField("max_clients", 24))
	assert.Equal(t, 24, cfg.GetServerData().MaxClients)

	require.NoError(t, cfg.UpdateServerField("force_reconnect", "connect 10.0.0.1"))
	assert.Equal(t, "connect 10.0.0.1", cfg.GetServerData().ForceReconnect)

	assert.Error(t, cfg.UpdateServerField("no_such_key", 1))
	assert.Error(t, cfg.UpdateServerField("max_clients", "many"))

	require.NoError(t, cfg.UpdateAppField("metrics", map[string]interface{}{"enabled": false}))
	assert.False(t, cfg.GetApplicationData().Metrics.Enabled)
}

func TestSessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	sd := cfg.GetServerData()
	sd.ZombieTimeout = 5
	sd.ConnectStuff = []string{"set rate 25000"}
	sd.Movement.QWMode = true
	cfg.SetServerData(sd)

	opts := cfg.SessionOptions()
	assert.Equal(t, "fragline", opts.Hostname)
	assert.Equal(t, 16, opts.MaxClients)
	assert.Equal(t, 5*time.Second, opts.ZombieTimeout)
	assert.True(t, opts.Movement.StrafeHack)
	assert.True(t, opts.Movement.QWMode)
	assert.Equal(t, []string{"set rate 25000"}, opts.ConnectStuff)
	assert.True(t, opts.Downloads.Enabled)

	// the options own their slices
	opts.ConnectStuff[0] = "changed"
	assert.Equal(t, "set rate 25000", cfg.GetServerData().ConnectStuff[0])
}

func TestUDPConfigUsesClientTimeout(t *testing.T) {
	cfg := DefaultConfig()
	udp := cfg.UDPConfig()
	assert.Equal(t, DefaultGamePort, udp.Port)
	assert.Equal(t, 90*time.Second, udp.IdleTimeout)
	assert.NotEqual(t, cfg.SessionOptions().ZombieTimeout, udp.IdleTimeout)

	sd := cfg.GetServerData()
	sd.ClientTimeout = 120
	sd.ZombieTimeout = 3
	cfg.SetServerData(sd)
	assert.Equal(t, 120*time.Second, cfg.UDPConfig().IdleTimeout)
	assert.Equal(t, 3*time.Second, cfg.SessionOptions().ZombieTimeout)
}

func TestValidateClientTimeout(t *testing.T) {
	cfg := DefaultConfig()
	sd := cfg.GetServerData()
	sd.ClientTimeout = 0
	cfg.SetServerData(sd)
	result := Validate(cfg)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "server_data.client_timeout_sec", result.Errors[0].Field)

	sd.ClientTimeout = 5
	cfg.SetServerData(sd)
	result = Validate(cfg)
	assert.True(t, result.IsValid())
	found := false
	for _, w := range result.Warnings {
		found = found || w.Field == "server_data.client_timeout_sec"
	}
	assert.True(t, found)
}

func TestValidateDefaults(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestValidateErrors(t *testing.T) {
	cfg := DefaultConfig()
	sd := cfg.GetServerData()
	sd.Hostname = " "
	sd.MaxClients = 0
	sd.FrameRate = 100
	sd.MaxPacketLen = 4000
	sd.ForceReconnect = "connect a; quit"
	sd.Downloads.Maps = 3
	cfg.SetServerData(sd)

	ad := cfg.GetApplicationData()
	ad.Security.AuthDisabled = false
	ad.Timers.AuditPurgeTime = "4am"
	ad.API.Port = sd.Port
	cfg.SetApplicationData(ad)

	result := Validate(cfg)
	assert.False(t, result.IsValid())

	fields := map[string]bool{}
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"server_data.hostname",
		"server_data.max_clients",
		"server_data.frame_rate",
		"server_data.max_packet_len",
		"server_data.force_reconnect",
		"server_data.downloads.maps",
		"application_data.api.token",
		"timers.audit_purge_time",
		"ports",
	} {
		assert.True(t, fields[f], "expected an error for %s", f)
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "server_data.port", Message: "invalid"}
	assert.Equal(t, "config validation error [server_data.port]: invalid", e.Error())
}

func TestSetupWizard(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	answers := strings.Join([]string{
		"lan party", // hostname
		"",          // gamedir
		"q2dm8",     // map
		"",          // asset directory
		"27911",     // port
		"abc",       // max clients, invalid so the default stays
		"no",        // deflate
		"",          // forced reconnect
		"",          // api port
		"yes",       // require token
		"",          // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	sd := cfg.GetServerData()
	assert.Equal(t, "lan party", sd.Hostname)
	assert.Equal(t, "baseq2", sd.Gamedir)
	assert.Equal(t, "q2dm8", sd.MapName)
	assert.Equal(t, 27911, sd.Port)
	assert.Equal(t, 16, sd.MaxClients)
	assert.False(t, sd.Deflate)

	ad := cfg.GetApplicationData()
	assert.False(t, ad.Security.AuthDisabled)
	assert.NotEmpty(t, ad.API.Token)
	assert.Contains(t, out.String(), "Generated API token: "+ad.API.Token)
	assert.Contains(t, out.String(), "Configuration saved successfully")

	reloaded, err := Load(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	assert.Equal(t, "lan party", reloaded.GetServerData().Hostname)
}

func TestSetupWizardGivesUp(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	// an invalid frame of answers, repeated for every attempt
	attempt := strings.Repeat("\n", 4) + "0\n" + strings.Repeat("\n", 6) + "yes\n"
	var out bytes.Buffer
	err = RunSetupWizard(cfg, strings.NewReader(strings.Repeat(attempt, maxSetupAttempts)), &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "Configuration has errors")
}
