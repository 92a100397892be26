package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"

	"github.com/panyam/portalauth/client"
	"github.com/panyam/portalauth/internal/config"
	"github.com/panyam/portalauth/internal/fakeportal"
	"github.com/panyam/portalauth/login"
)

const demoUserEmail = "demo@portal.local"

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.Bool(flagDemo) {
		stopDemo, err := startDemoPortal(cfg)
		if err != nil {
			return err
		}
		defer stopDemo()
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	manager := newManager(cfg, store, client.NewMetrics(reg))
	defer manager.Close()

	// Requests are served while the stored session is restored; /session
	// reports loading until then.
	go func() {
		if err := manager.Bootstrap(ctx); err != nil {
			log.Warn().Err(err).Msg("stored session could not be restored")
		}
	}()

	handler, err := newServeHandler(cfg, manager, reg)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("portal", cfg.Portal.APIURL).Msg("serving")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return errors.Wrap(err, "error serving")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newServeHandler mounts the login routes, the metrics endpoint and the
// authenticated API proxy.
func newServeHandler(cfg *config.Config, manager *client.Manager, reg *prometheus.Registry) (http.Handler, error) {
	flow := login.NewFlow(manager, login.NewSCSRedirectStore(nil), cfg.Portal.AuthUIURL, cfg.Portal.PublicURL)
	flow.Logger = log.Logger.With().Str("component", "login").Logger()

	proxy, err := newAPIProxy(cfg.Portal.APIURL, manager)
	if err != nil {
		return nil, err
	}

	router := flow.Router()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.PathPrefix("/api/").Handler(proxy)
	return router, nil
}

// newAPIProxy forwards requests to the portal API with the session's bearer
// credential, refreshing once on 401.
func newAPIProxy(apiURL string, manager *client.Manager) (http.Handler, error) {
	target, err := url.Parse(apiURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing portal API URL")
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = client.NewAuthTransport(manager, nil)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("portal request failed")
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy, nil
}

// startDemoPortal runs a fake portal on a loopback port and points cfg at it.
func startDemoPortal(cfg *config.Config) (func(), error) {
	portal := fakeportal.New("portal-session-demo")
	userID := portal.AddUser(client.ProfilePayload{
		FullName:      "Demo Viewer",
		Email:         demoUserEmail,
		EmailVerified: true,
		Roles:         []string{"viewer"},
		Permissions:   []string{"video:watch"},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "error starting demo portal")
	}
	server := &http.Server{Handler: portal.Handler(userID)}
	go server.Serve(ln)

	base := "http://" + ln.Addr().String()
	cfg.Portal.APIURL = base
	cfg.Portal.AuthUIURL = base + fakeportal.IdentityLoginPath
	log.Info().Str("portal", base).Str("user", demoUserEmail).Msg("demo portal running")
	return func() { server.Close() }, nil
}
