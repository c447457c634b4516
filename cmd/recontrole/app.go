package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/fentz26/recontrole/internal/audit"
	"github.com/fentz26/recontrole/internal/auth"
	"github.com/fentz26/recontrole/internal/config"
	"github.com/fentz26/recontrole/internal/controlplane"
	"github.com/fentz26/recontrole/internal/lock"
	"github.com/fentz26/recontrole/internal/monitor"
	"github.com/fentz26/recontrole/internal/notify"
	"github.com/fentz26/recontrole/internal/remote"
	"github.com/fentz26/recontrole/internal/store"
)

// app bundles the components shared by the commands.
type app struct {
	cfg    *config.Config
	db     *store.Handle
	store  *store.Store
	auth   *auth.Manager
	remote *remote.Client
}

func openApp(c *config.Config) (*app, error) {
	h := store.NewHandle(c.Database.Driver, c.Database.DSN)
	s, err := h.Get()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	am, err := auth.NewManager(c.Auth.CredentialsPath)
	if err != nil {
		h.Close()
		return nil, err
	}

	a := &app{cfg: c, db: h, store: s, auth: am}
	if c.Remote.BaseURL != "" {
		a.remote = remote.NewClient(c.Remote.BaseURL,
			remote.WithReportsPath(c.Remote.ReportsPath),
			remote.WithTokenSource(am),
			remote.WithHTTPClient(&http.Client{Timeout: c.Remote.Timeout}),
		)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// remoteClient returns the configured remote client.
func (a *app) remoteClient() (*remote.Client, error) {
	if a.remote == nil {
		return nil, fmt.Errorf("remote.base_url is not configured (edit %s)", configPath)
	}
	return a.remote, nil
}

// service returns the control plane service over the app's components.
func (a *app) service() *controlplane.Service {
	var reports controlplane.ReportStore
	if a.remote != nil {
		reports = a.remote
	}
	return controlplane.NewService(a.store, reports, a.auth)
}

// buildSinks creates the notification sinks named in the config.
func buildSinks(c config.NotifyConfig) []notify.Sink {
	var sinks []notify.Sink
	for _, sc := range c.Sinks {
		switch sc.Type {
		case "log":
			sinks = append(sinks, notify.NewLogSink(nil))
		case "webhook":
			sinks = append(sinks, notify.NewWebhook(sc.URL, sc.Format))
		case "telegram":
			sinks = append(sinks, notify.NewTelegram(sc.Token, sc.ChatID))
		}
	}
	return sinks
}

// newMonitor wires a monitor task over the app's components.
func (a *app) newMonitor(metrics *monitor.Metrics) (*monitor.Task, error) {
	rc, err := a.remoteClient()
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewService(buildSinks(a.cfg.Notify),
		notify.WithRateLimit(a.cfg.Notify.RatePerMinute, a.cfg.Notify.Burst),
	)
	permission := notify.Gate{Enabled: a.cfg.Notify.Enabled, Check: dispatcher}

	opts := []monitor.Option{
		monitor.WithRecorder(audit.NewRecorder(a.store)),
		monitor.WithRetention(a.cfg.Monitor.Retention),
		monitor.WithFetchTimeout(a.cfg.Monitor.FetchTimeout),
	}
	if metrics != nil {
		opts = append(opts, monitor.WithMetrics(metrics))
	}
	return monitor.New(rc, a.store.Baseline(), a.store, dispatcher, a.auth, permission, opts...), nil
}

// newLocker returns the lock backend selected by schedule.lock. The returned
// close function releases backend connections. The local backend also takes
// the store's lock row so a daemon and a one-off run on the same database
// exclude each other.
func (a *app) newLocker(ctx context.Context) (lock.Locker, func() error, error) {
	noop := func() error { return nil }
	switch a.cfg.Schedule.Lock {
	case "local":
		return lock.Chain{lock.NewLocal(), lock.NewSQL(a.store)}, noop, nil
	case "redis":
		r := lock.NewRedis(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return r, r.Close, nil
	default:
		return lock.NewSQL(a.store), noop, nil
	}
}

// remoteAddr returns host:port of the remote base URL for the network probe.
func remoteAddr(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse remote.base_url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("remote.base_url %q has no host", baseURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

func logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
