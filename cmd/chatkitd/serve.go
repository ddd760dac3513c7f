package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/chatkit-go/chatkit"
	"github.com/chatkit-go/chatkit/adapter/httpadapter"
	"github.com/chatkit-go/chatkit/adapter/socketadapter"
	"github.com/chatkit-go/chatkit/config"
	"github.com/chatkit-go/chatkit/oauth"
	"github.com/chatkit-go/chatkit/store"
	"github.com/chatkit-go/chatkit/utils"
)

func serve() error {
	conf, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if conf.Debug && !verbose {
		log = utils.MustMakeCommandLogger(zapcore.DebugLevel)
	}

	installations, cleanup, err := makeStore(conf)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := chatkit.Options{
		Name:                    "chatkitd",
		SigningSecret:           conf.SigningSecret,
		VerificationToken:       conf.VerificationToken,
		LazyWorkers:             conf.LazyWorkers,
		TokenRotationExpiration: conf.TokenRotationExpiration,
		Logger:                  log,
	}
	if conf.BotToken != "" {
		opts.Token = conf.BotToken
	} else {
		opts.InstallationStore = installations
		opts.AuthorizeResultCache = true
		opts.TokenRotator = chatkit.NewOAuthTokenRotator(conf.OAuth.ClientID, conf.OAuth.ClientSecret)
	}

	app, err := chatkit.New(opts)
	if err != nil {
		return errors.Wrap(err, "failed to assemble the app")
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Transport == config.TransportSocket {
		log.Infof("serving over the socket transport")
		return socketadapter.New(app, conf.BotToken, conf.AppToken,
			socketadapter.WithLogger(log)).Run(ctx)
	}
	return serveHTTP(ctx, conf, app, installations)
}

func serveHTTP(ctx context.Context, conf *config.Config, app *chatkit.App, installations store.InstallationStore) error {
	adapterOpts := []httpadapter.Option{
		httpadapter.WithLogger(log),
	}
	if conf.OAuth.Enabled() {
		flow := &oauth.Flow{
			ClientID:     conf.OAuth.ClientID,
			ClientSecret: conf.OAuth.ClientSecret,
			Scopes:       conf.OAuth.Scopes,
			UserScopes:   conf.OAuth.UserScopes,
			RedirectURI:  conf.OAuth.RedirectURI,
			Store:        installations,
			Log:          log,
		}
		if conf.OAuth.StateSecret != "" {
			flow.States = &oauth.JWTStateStore{Secret: []byte(conf.OAuth.StateSecret)}
		}
		adapterOpts = append(adapterOpts, httpadapter.WithOAuthFlow(flow))
	}

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: httpadapter.New(app, adapterOpts...),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", conf.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "the HTTP server failed")
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func makeStore(conf *config.Config) (store.InstallationStore, func(), error) {
	if conf.StorePath == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.NewSQLiteStore(conf.StorePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open the installation store at %s", conf.StorePath)
	}
	return s, func() { _ = s.Close() }, nil
}
