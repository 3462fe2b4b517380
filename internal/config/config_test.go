package config

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	Database
	Logging
	Server
	FTP
}

func parse(t *testing.T, args ...string) cli {
	t.Helper()
	var c cli
	parser, err := kong.New(&c, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return c
}

func TestDefaults(t *testing.T) {
	c := parse(t)
	assert.Equal(t, "data/waterbudget.db", c.Path)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "info", c.Level)
	assert.Equal(t, "json", c.Format)
	assert.Equal(t, 10*time.Second, c.ShutdownTimeout)
	assert.Equal(t, "anonymous", c.User)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WATERBUDGET_DB", "/tmp/wb.db")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("FTP_HOST", "scada.local:21")
	t.Setenv("FTP_TIMEOUT", "5s")

	c := parse(t)
	assert.Equal(t, "/tmp/wb.db", c.Path)
	assert.Equal(t, "debug", c.Level)
	assert.Equal(t, 5*time.Second, c.Timeout)
	require.NoError(t, c.Server.Check())
	require.NoError(t, c.FTP.Check())
}

func TestFlagsBeatEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	c := parse(t, "--addr", ":9100")
	assert.Equal(t, ":9100", c.Addr)
}

func TestInvalidLogLevel(t *testing.T) {
	var c cli
	parser, err := kong.New(&c)
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--log-level", "chatty"})
	assert.Error(t, err)
}

func TestServerCheck(t *testing.T) {
	tests := []struct {
		name    string
		server  Server
		wantErr string
	}{
		{"short secret", Server{Addr: ":8080", JWTSecret: "short", ShutdownTimeout: time.Second}, "JWT_SECRET"},
		{"no timeout", Server{Addr: ":8080", JWTSecret: "0123456789abcdef"}, "SHUTDOWN_TIMEOUT"},
		{"no addr", Server{JWTSecret: "0123456789abcdef", ShutdownTimeout: time.Second}, "HTTP_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Check()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFTPCheck(t *testing.T) {
	ok := FTP{Host: "scada:21", Timeout: time.Second, MaxElapsed: time.Minute}
	require.NoError(t, ok.Check())

	noPort := ok
	noPort.Host = "scada"
	assert.Error(t, noPort.Check())

	assert.Error(t, FTP{}.Check())
}
