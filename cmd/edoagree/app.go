package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/archive"
	"github.com/dusk-indust/edoagree/internal/config"
	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/diadoc"
	"github.com/dusk-indust/edoagree/internal/docfill"
	"github.com/dusk-indust/edoagree/internal/focus"
	"github.com/dusk-indust/edoagree/internal/inflect"
	"github.com/dusk-indust/edoagree/internal/logging"
	"github.com/dusk-indust/edoagree/internal/orchestrator"
	"github.com/dusk-indust/edoagree/internal/registry"
)

// app holds what every subcommand opens: configuration, logger and the
// registry.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	logPath string
	store   registry.Store
}

// openApp loads the configuration from flags.Dir and opens the registry.
// quiet keeps the logger off stderr.
func openApp(ctx context.Context, flags *cliFlags, quiet bool) (*app, error) {
	cfg, err := config.Load(flags.Dir)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	logCfg.Quiet = quiet
	if flags.Verbose {
		logCfg.Level = "debug"
	}
	logger, logPath, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	store, err := registry.Open(ctx, cfg.RegistryOptions())
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Debug("registry opened", zap.String("driver", cfg.Registry.Driver))

	return &app{cfg: cfg, logger: logger, logPath: logPath, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close registry", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// companies returns every configured company, or only the one named by
// code when it is not empty.
func (a *app) companies(code string) ([]counterparty.Company, error) {
	if code != "" {
		c, err := a.cfg.Company(code)
		if err != nil {
			return nil, err
		}
		return []counterparty.Company{c}, nil
	}
	out := make([]counterparty.Company, 0, len(a.cfg.Companies))
	for _, cc := range a.cfg.Companies {
		c, err := cc.Company()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// deps builds the external collaborators of a processor.
func (a *app) deps(ctx context.Context, arbiter orchestrator.Arbiter) (orchestrator.Deps, error) {
	cfg := a.cfg
	if err := cfg.CheckTemplatesDir(); err != nil {
		return orchestrator.Deps{}, err
	}
	if cfg.Focus.APIKey == "" {
		return orchestrator.Deps{}, fmt.Errorf("focus API key is missing (set FOCUS_API_KEY or API_KEY)")
	}
	if cfg.Inflect.APIKey == "" {
		return orchestrator.Deps{}, fmt.Errorf("language-model API key is missing (set OPENAI_API_KEY)")
	}
	creds := diadoc.Credentials{
		ClientID: cfg.Diadoc.ClientID,
		Login:    cfg.Diadoc.Login,
		Password: cfg.Diadoc.Password,
	}
	if !creds.Valid() {
		return orchestrator.Deps{}, fmt.Errorf("diadoc credentials are missing (set DIADOC_API_CLIENT_ID, DIADOC_LOGIN, DIADOC_PASSWORD)")
	}

	focusOpts := []focus.Option{focus.WithLogger(a.logger.Named("focus"))}
	if cfg.Focus.BaseURL != "" {
		focusOpts = append(focusOpts, focus.WithBaseURL(cfg.Focus.BaseURL))
	}
	if cfg.Focus.Attempts > 0 {
		focusOpts = append(focusOpts, focus.WithAttempts(cfg.Focus.Attempts))
	}
	if cfg.Focus.Timeout > 0 {
		focusOpts = append(focusOpts, focus.WithTimeout(cfg.Focus.Timeout))
	}

	inflectOpts := []inflect.Option{inflect.WithLogger(a.logger.Named("inflect"))}
	if cfg.Inflect.BaseURL != "" {
		inflectOpts = append(inflectOpts, inflect.WithBaseURL(cfg.Inflect.BaseURL))
	}
	if cfg.Inflect.Model != "" {
		inflectOpts = append(inflectOpts, inflect.WithModel(cfg.Inflect.Model))
	}
	if proxy := cfg.ProxyURL(); proxy != nil {
		inflectOpts = append(inflectOpts, inflect.WithProxy(proxy))
	}
	if cfg.Inflect.Attempts > 0 {
		inflectOpts = append(inflectOpts, inflect.WithAttempts(cfg.Inflect.Attempts))
	}

	diadocOpts := []diadoc.Option{diadoc.WithLogger(a.logger.Named("diadoc"))}
	if cfg.Diadoc.BaseURL != "" {
		diadocOpts = append(diadocOpts, diadoc.WithBaseURL(cfg.Diadoc.BaseURL))
	}

	deps := orchestrator.Deps{
		Store:       a.store,
		Resolver:    focus.New(cfg.Focus.APIKey, focusOpts...),
		Normalizer:  inflect.New(cfg.Inflect.APIKey, inflectOpts...),
		Filler:      docfill.New(cfg.TemplatesDir, cfg.OutputRoot, docfill.WithLogger(a.logger.Named("docfill"))),
		Transmitter: diadoc.New(creds, diadocOpts...),
		Arbiter:     arbiter,
	}

	if cfg.Archive.Enabled() {
		arch, err := archive.NewMinioArchiver(cfg.Archive, a.logger.Named("archive"))
		if err != nil {
			return orchestrator.Deps{}, err
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			return orchestrator.Deps{}, err
		}
		deps.Archiver = arch
	}
	return deps, nil
}
