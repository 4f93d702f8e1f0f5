package main

import (
	"github.com/iotaledger/hive.go/app/configuration"
	appLogger "github.com/iotaledger/hive.go/app/logger"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/logger"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/dueldanov/packscript/internal/config"
	"github.com/dueldanov/packscript/internal/crypto"
	"github.com/dueldanov/packscript/internal/monitoring"
	"github.com/dueldanov/packscript/internal/packscript"
	"github.com/dueldanov/packscript/internal/storage"
	"github.com/dueldanov/packscript/internal/transport"
)

type collaboratorDeps struct {
	dig.In

	Fetcher *transport.HTTPFetcher
	Dialer  *transport.TCPDialer
	Crypto  *crypto.Provider
	Store   *storage.Store
}

type engineDeps struct {
	dig.In

	Logger        *logger.Logger
	Params        *config.Parameters
	Collaborators packscript.Collaborators
	Metrics       *monitoring.EngineMetrics
}

// buildContainer wires every collaborator the engine may call into
func buildContainer(params *config.Parameters) (*dig.Container, error) {
	c := dig.New()

	providers := []any{
		func() *config.Parameters { return params },
		newLogger,
		func(log *logger.Logger) *crypto.Provider {
			return crypto.NewProvider(log.Named("Crypto"))
		},
		func(log *logger.Logger, p *config.Parameters) *transport.HTTPFetcher {
			return transport.NewHTTPFetcher(log.Named("HTTP"), p.HTTP.Timeout, p.HTTP.RequestsPerSecond, p.HTTP.Burst)
		},
		func(log *logger.Logger, p *config.Parameters) *transport.TCPDialer {
			return transport.NewTCPDialer(log.Named("Socket"), p.Socket.DialTimeout)
		},
		newStore,
		func(deps collaboratorDeps) packscript.Collaborators {
			return packscript.Collaborators{
				Fetcher: deps.Fetcher,
				Dialer:  deps.Dialer,
				Crypto:  deps.Crypto,
				Store:   deps.Store,
			}
		},
		func(log *logger.Logger) *monitoring.EngineMetrics {
			return monitoring.NewEngineMetrics(log.Named("Metrics"))
		},
		func(deps engineDeps) *packscript.Engine {
			return packscript.NewEngine(deps.Logger.Named("Engine"), deps.Params.EngineConfig(), deps.Collaborators,
				packscript.WithMetrics(deps.Metrics))
		},
	}

	for _, provider := range providers {
		if err := c.Provide(provider); err != nil {
			return nil, errors.Wrap(err, "failed to provide dependency")
		}
	}
	return c, nil
}

func newLogger() (*logger.Logger, error) {
	// the global logger may already be initialized
	_ = appLogger.InitGlobalLogger(configuration.New())
	return logger.NewLogger("PackScript"), nil
}

// newStore opens an in-memory store; a configured key file seals values
func newStore(log *logger.Logger, p *config.Parameters) (*storage.Store, error) {
	var sealer *crypto.Sealer
	if p.Storage.KeyFile != "" {
		key, err := crypto.NewKeyFile(p.Storage.KeyFile).LoadOrGenerate()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load storage key")
		}
		if sealer, err = crypto.NewSealer(key); err != nil {
			return nil, err
		}
	}
	return storage.NewStore(log.Named("Storage"), mapdb.NewMapDB(), []byte(p.Storage.Realm), sealer)
}

// withEngine resolves the engine and passes it to fn
func withEngine(params *config.Parameters, fn func(*packscript.Engine) error) error {
	c, err := buildContainer(params)
	if err != nil {
		return err
	}

	var runErr error
	if err := c.Invoke(func(engine *packscript.Engine) {
		runErr = fn(engine)
	}); err != nil {
		return errors.Wrap(err, "failed to build engine")
	}
	return runErr
}
