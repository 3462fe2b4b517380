package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Database is shared by every command that touches the store.
type Database struct {
	Path string `name:"db" env:"WATERBUDGET_DB" default:"data/waterbudget.db" help:"Path to SQLite database."`
}

type Logging struct {
	Level  string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	Format string `name:"log-format" env:"LOG_FORMAT" default:"json" enum:"json,text" help:"Log format."`
}

// Server holds the HTTP API settings.
type Server struct {
	Addr            string        `name:"addr" env:"HTTP_ADDR" default:":8080" help:"HTTP listen address."`
	JWTSecret       string        `name:"jwt-secret" env:"JWT_SECRET" help:"HMAC secret for bearer tokens."`
	ShutdownTimeout time.Duration `name:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" help:"Graceful shutdown timeout."`
}

func (s Server) Check() error {
	if len(s.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if s.Addr == "" {
		return errors.New("HTTP_ADDR is required")
	}
	return nil
}

// FTP describes the SCADA drop that telemetry CSV files are fetched from.
type FTP struct {
	Host       string        `name:"ftp-host" env:"FTP_HOST" help:"FTP host:port of the telemetry drop."`
	User       string        `name:"ftp-user" env:"FTP_USER" default:"anonymous" help:"FTP user."`
	Password   string        `name:"ftp-password" env:"FTP_PASSWORD" default:"anonymous" help:"FTP password."`
	Dir        string        `name:"ftp-dir" env:"FTP_DIR" default:"/" help:"Remote directory holding telemetry CSV files."`
	Timeout    time.Duration `name:"ftp-timeout" env:"FTP_TIMEOUT" default:"30s" help:"FTP dial timeout."`
	MaxElapsed time.Duration `name:"ftp-max-elapsed" env:"FTP_MAX_ELAPSED" default:"2m" help:"Give up retrying after this long."`
}

func (f FTP) Check() error {
	if f.Host == "" {
		return errors.New("FTP_HOST is required")
	}
	if !strings.Contains(f.Host, ":") {
		return fmt.Errorf("FTP_HOST %q must include a port", f.Host)
	}
	if f.Timeout <= 0 || f.MaxElapsed <= 0 {
		return errors.New("FTP timeouts must be positive")
	}
	return nil
}
