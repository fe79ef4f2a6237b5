package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/debuglog"
	"github.com/ternarybob/hrsync/internal/services/auth"
	"github.com/ternarybob/hrsync/internal/services/credentials"
	"github.com/ternarybob/hrsync/internal/services/portal"
	"github.com/ternarybob/hrsync/internal/storage/badger"
	"github.com/ternarybob/hrsync/internal/storage/file"
)

// app holds what every subcommand shares
type app struct {
	config  *common.Config
	flags   *globalFlags
	logger  arbor.ILogger
	tracer  *debuglog.Tracer // nil unless -debug
	storage *badger.Manager  // opened on first use
	session *auth.Manager    // built on first use
}

func newApp(config *common.Config, flags *globalFlags, logger arbor.ILogger) (*app, error) {
	a := &app{config: config, flags: flags, logger: logger}

	if flags.debug {
		a.tracer = debuglog.New(config.Auth.DebugLogFile)
		if err := a.tracer.Enable(); err != nil {
			return nil, err
		}
		logger.Info().Str("path", a.tracer.Path()).Msg("Writing HTTP debug trace")
	}

	return a, nil
}

// Close releases the trace file and the database
func (a *app) Close() {
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	if err := a.tracer.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close debug trace")
	}
}

// Storage opens the Badger database holding the card cache and run history
func (a *app) Storage() (*badger.Manager, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	m, err := badger.NewManager(a.logger, &a.config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.storage = m
	return m, nil
}

func (a *app) sessionManager(ctx context.Context) (*auth.Manager, error) {
	if a.session != nil {
		return a.session, nil
	}
	store := file.NewSessionStore(a.config.Auth.SessionFile, a.logger)
	creds, err := credentials.NewFromConfig(ctx, a.config.Credentials, a.logger)
	if err != nil {
		return nil, err
	}
	a.session = auth.NewManager(a.config, store, creds, a.tracer, a.logger)
	return a.session, nil
}

// invalidateOnExpiry drops the cached session when err says the portal
// rejected it, then returns err unchanged. With -no-cache the cache was
// never used and is left alone.
func (a *app) invalidateOnExpiry(err error) error {
	if a.session == nil || a.flags.noCache {
		return err
	}
	if a.session.InvalidateOnExpiry(err) {
		a.logger.Info().Msg("Cached session was rejected mid-run and has been cleared; the next run signs in again")
	}
	return err
}

// Acquire returns an authenticated session honouring -clear-cache and -no-cache.
// mode overrides auth.mode when non-empty.
func (a *app) Acquire(ctx context.Context, needBrowser bool, mode string) (*auth.Session, error) {
	manager, err := a.sessionManager(ctx)
	if err != nil {
		return nil, err
	}

	if a.flags.clearCache {
		if err := manager.ClearCache(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to clear session cache")
		}
	}

	session, err := manager.AcquireSession(ctx, auth.AcquireOptions{
		UseCache:        !a.flags.noCache,
		NeedLiveBrowser: needBrowser,
		Mode:            mode,
	})
	if err != nil {
		return nil, err
	}

	source := "fresh login"
	if session.FromCache {
		source = "cache"
	}
	a.logger.Info().Str("source", source).Bool("live_browser", session.Browser != nil).Msg("Session acquired")
	return session, nil
}

// Portal wraps a session's client for the data API
func (a *app) Portal(session *auth.Session, logger arbor.ILogger) *portal.Client {
	return portal.NewClient(session.Client,
		portal.WithBaseURL(a.config.Portal.AppBaseURL),
		portal.WithLogger(logger),
		portal.WithDateRange(a.config.Sync.DateFrom, a.config.Sync.DateTo),
	)
}

// newFlagSet creates a subcommand flag set whose errors are returned, not fatal
func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("hrsync "+name, flag.ContinueOnError)
}
