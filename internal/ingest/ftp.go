package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/waterbudget/internal/config"
	"github.com/lox/waterbudget/internal/metrics"
)

// Source lists and fetches telemetry export files.
type Source interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FTPSource reads CSV exports from the SCADA FTP drop.
type FTPSource struct {
	cfg    config.FTP
	logger *slog.Logger
}

func NewFTPSource(cfg config.FTP, logger *slog.Logger) *FTPSource {
	return &FTPSource{cfg: cfg, logger: logger}
}

func (s *FTPSource) Name() string { return "ftp" }

// List returns the CSV files in the configured directory, sorted by name.
func (s *FTPSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.withConn(ctx, func(conn *ftp.ServerConn) error {
		entries, err := conn.NameList(s.cfg.Dir)
		if err != nil {
			return fmt.Errorf("ftp nlst: %w", err)
		}
		names = names[:0]
		for _, e := range entries {
			base := path.Base(e)
			if strings.EqualFold(path.Ext(base), ".csv") {
				names = append(names, base)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Fetch downloads one file from the configured directory.
func (s *FTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := s.withConn(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(path.Join(s.cfg.Dir, name))
		if err != nil {
			return fmt.Errorf("ftp retr: %w", err)
		}
		defer resp.Close()

		body, err = io.ReadAll(resp)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.FTPFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.FTPFetches.WithLabelValues("success").Inc()
	return body, nil
}

// withConn dials, logs in and runs fn, retrying transient failures with
// exponential backoff. Login failures are not retried.
func (s *FTPSource) withConn(ctx context.Context, fn func(*ftp.ServerConn) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		conn, err := ftp.Dial(s.cfg.Host, ftp.DialWithTimeout(s.cfg.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			s.logger.Warn("ftp dial failed", "host", s.cfg.Host, "attempt", attempt, "error", err)
			return fmt.Errorf("ftp dial: %w", err)
		}
		defer conn.Quit()

		if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
			return backoff.Permanent(fmt.Errorf("ftp login: %w", err))
		}
		if err := fn(conn); err != nil {
			s.logger.Warn("ftp operation failed", "host", s.cfg.Host, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.MaxElapsed
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
