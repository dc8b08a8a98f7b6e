package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/careerguide/internal/apiclient"
	"github.com/ashureev/careerguide/internal/auth"
	"github.com/ashureev/careerguide/internal/chat"
	"github.com/ashureev/careerguide/internal/config"
	"github.com/ashureev/careerguide/internal/credential"
	"github.com/ashureev/careerguide/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// app is the session layer wired from configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *credential.Store
	api      *apiclient.Client
	backend  auth.Backend
	external *auth.External
	session  *session.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	cc := cfg.Client

	durable, err := credential.NewBackend(credential.Driver(cc.CredentialDriver),
		credential.WithPath(cc.CredentialPath),
		credential.WithRedisAddr(cc.RedisAddr),
		credential.WithRedisPrefix(cc.RedisPrefix),
		credential.WithBackendLogger(logger.Named("credential")),
	)
	if err != nil {
		return nil, fmt.Errorf("credential backend: %w", err)
	}
	store, err := credential.New(ctx, durable, credential.WithLogger(logger.Named("credential")))
	if err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("credential store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store}
	apiOpts := []apiclient.Option{
		apiclient.WithTimeout(cc.RequestTimeout),
		apiclient.WithLogger(logger.Named("api")),
	}

	switch cc.AuthBackend {
	case config.BackendExternal:
		provider, err := auth.NewSupabaseProvider(auth.SupabaseConfig{URL: cc.SupabaseURL, APIKey: cc.SupabaseKey})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.external = auth.NewExternal(provider,
			auth.WithExternalLogger(logger.Named("auth")),
			auth.WithTokenStore(store),
			auth.WithPollInterval(cc.IdentityPollInterval),
		)
		a.backend = a.external
		apiOpts = append(apiOpts, apiclient.WithRenewer(a.external))
		a.api = apiclient.New(cc.APIBaseURL, store, apiOpts...)
	default:
		a.api = apiclient.New(cc.APIBaseURL, store, apiOpts...)
		a.backend = auth.NewLocal(a.api, logger.Named("auth"))
	}

	a.session = session.New(store, a.backend,
		session.WithLogger(logger.Named("session")),
		session.WithEndedSource(a.api),
	)
	logger.Debug("session layer ready",
		zap.String("backend", a.backend.Name()),
		zap.String("credential_driver", cc.CredentialDriver),
		zap.String("api", cc.APIBaseURL))
	return a, nil
}

// newConsumer creates a chat consumer. Streams are long lived, so it gets a
// client without the pipeline's request timeout.
func (a *app) newConsumer() *chat.Consumer {
	return chat.New(a.cfg.Client.APIBaseURL, a.store,
		chat.WithHTTPClient(&http.Client{}),
		chat.WithLogger(a.logger.Named("chat")),
	)
}

// watch runs the background observers until ctx ends: the credential
// watcher, for sign-outs made by other processes, and the identity
// provider poller when the external backend is active.
func (a *app) watch(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.store.Watch(gctx)
		if errors.Is(err, credential.ErrWatchUnsupported) {
			a.logger.Debug("credential backend cannot be watched", zap.String("driver", a.cfg.Client.CredentialDriver))
			return nil
		}
		return err
	})
	if a.external != nil {
		g.Go(func() error { return a.external.Watch(gctx) })
	}
	return g.Wait()
}

func (a *app) Close() {
	a.session.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close credential store", zap.Error(err))
	}
}
