package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/repairshop-session/backend"
	"github.com/jrsteele09/repairshop-session/cache"
	"github.com/jrsteele09/repairshop-session/credentials"
	"github.com/jrsteele09/repairshop-session/identity/oidcprovider"
	"github.com/jrsteele09/repairshop-session/internal/config"
	"github.com/jrsteele09/repairshop-session/internal/metrics"
	"github.com/jrsteele09/repairshop-session/server"
	"github.com/jrsteele09/repairshop-session/session"
	"github.com/jrsteele09/repairshop-session/settings"
	"github.com/jrsteele09/repairshop-session/tenants"
	"github.com/jrsteele09/repairshop-session/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("loading .env")
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

type app struct {
	resolver *session.Resolver
	cache    *cache.Cache
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	broker := server.NewPopupBroker(func(authURL string) error {
		log.Info().Str("url", authURL).Msg("open this address to finish signing in")
		return nil
	})

	handler, a, err := build(c, reg, broker)
	if err != nil {
		return err
	}
	defer a.cache.Close()

	srv := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(srv)
	waitForStopSignal()
	a.resolver.Stop()
	returnError = shutdown(srv)
	return returnError
}

func build(c config.Config, reg *prometheus.Registry, broker *server.PopupBroker) (http.Handler, *app, error) {
	sealKey, err := credentialKey(c)
	if err != nil {
		return nil, nil, err
	}
	store, err := credentials.NewFileStore(filepath.Join(c.GetDataFolder(), "credentials.json"), sealKey)
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	m := metrics.New(reg)
	provider := oidcprovider.New(c, oidcprovider.WithPopupHandler(broker.Await))
	tokens := token.New(provider, store,
		token.WithRenewal(c.GetTokenRenewalThreshold(), c.GetTokenRenewalInterval()),
		token.WithMetrics(m),
	)

	client := backend.New(c.GetBackendURL(), tokens, backend.WithTenantHeader(c.GetTenantHeader()))
	tenantCache, err := cache.New(c.GetCacheMaxEntries())
	if err != nil {
		return nil, nil, fmt.Errorf("creating cache: %w", err)
	}

	catalog := tenants.NewCatalog(client.Tenants(), store, tenants.WithCatalogMetrics(m))
	client.SetTenantSource(catalog)
	switcher := tenants.NewSwitcher(catalog, store, client.Tenants(), tenantCache, m)
	settingsSvc := settings.NewService(client, catalog, tenantCache,
		settings.WithTTL(c.GetSettingsTTL()),
		settings.WithMetrics(m),
	)

	resolver := session.New(provider, tokens, client, catalog, store,
		session.WithFallback(session.NewFallbackStrategy(c.GetLocalSessionEnabled())),
		session.WithPrefetcher(settingsSvc),
		session.WithCache(tenantCache),
		session.WithMetrics(m),
	)
	if err := resolver.Start(context.Background()); err != nil {
		tenantCache.Close()
		return nil, nil, fmt.Errorf("starting session resolver: %w", err)
	}

	h := server.New(c.GetEnv(), resolver, switcher, settingsSvc,
		server.WithGatherer(reg),
		server.WithPopupBroker(broker),
	)
	return h, &app{resolver: resolver, cache: tenantCache}, nil
}

func credentialKey(c config.Config) (*[32]byte, error) {
	if c.GetCredentialKey() == "" {
		if c.IsProduction() {
			log.Warn().Msg("CREDENTIAL_KEY is not set, credentials are stored unsealed")
		}
		return nil, nil
	}
	key, err := credentials.ParseSealKey(c.GetCredentialKey())
	if err != nil {
		return nil, fmt.Errorf("parsing CREDENTIAL_KEY: %w", err)
	}
	return key, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !c.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(srv *http.Server) {
	log.Info().Msgf("Server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
