package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/acme/autocert"

	"github.com/avaropoint/viewport/internal/config"
	"github.com/avaropoint/viewport/internal/gateway"
	"github.com/avaropoint/viewport/internal/security"
	"github.com/avaropoint/viewport/internal/store"
	"github.com/avaropoint/viewport/internal/tunnel"
)

// Server owns the gateway's listeners and HTTP surface.
type Server struct {
	cfg        *config.Config
	store      store.Store
	box        *security.Box
	registry   *tunnel.Registry
	dispatcher *gateway.Dispatcher
	acme       *autocert.Manager
	tlsPaths   *security.TLSConfig // set in selfsigned mode
}

// NewServer wires the gateway components into a runnable server.
func NewServer(cfg *config.Config, st store.Store, box *security.Box, registry *tunnel.Registry, dispatcher *gateway.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		box:        box,
		registry:   registry,
		dispatcher: dispatcher,
	}
}

// Router lays out the HTTP surface: the open tunnel endpoint, the
// API-key-protected management API, and liveness.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/tunnel", s.handleTunnel)

	r.Route("/api", func(api chi.Router) {
		api.Use(security.RequireAPIKey(s.store))
		api.Get("/profiles", s.handleListProfiles)
		api.Post("/profiles", s.handleSaveProfile)
		api.Get("/profiles/{name}", s.handleGetProfile)
		api.Delete("/profiles/{name}", s.handleDeleteProfile)
		api.Get("/sessions", s.handleListSessions)
		api.Get("/keys", s.handleListKeys)
		api.Post("/keys", s.handleCreateKey)
		api.Delete("/keys/{id}", s.handleDeleteKey)
		api.Get("/ca", s.handleCACert)
	})

	return r
}

// Run serves until the context is canceled or a listener fails, then
// shuts down: listeners first, then any still-live tunnels.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLn, err := s.listenHTTP()
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Sessions inherit the run context through their requests, so
		// shutdown reaches them as cancellation.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Printf("HTTP API on %s (TLS mode %q)", s.cfg.Server.HTTPAddr, s.cfg.TLS.Mode)

	var acmeSrv *http.Server
	if s.acme != nil {
		acmeSrv = &http.Server{
			Addr:              ":http",
			Handler:           s.acme.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := acmeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("ACME challenge listener: %v", err)
			}
		}()
	}

	var wireLn net.Listener
	if s.cfg.Server.WireAddr != "" {
		wireLn, err = net.Listen("tcp", s.cfg.Server.WireAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("wire listener: %w", err)
		}
		log.Printf("Wire listener on %s", s.cfg.Server.WireAddr)
		go s.serveWire(ctx, wireLn)
	}

	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if wireLn != nil {
			_ = wireLn.Close()
		}
		if acmeSrv != nil {
			_ = acmeSrv.Shutdown(shutdownCtx)
		}
		err := httpSrv.Shutdown(shutdownCtx)
		s.registry.Close()
		return err
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if wireLn != nil {
			_ = wireLn.Close()
		}
		if acmeSrv != nil {
			_ = acmeSrv.Shutdown(shutdownCtx)
		}
		s.registry.Close()
		return fmt.Errorf("http server: %w", err)
	}
}

// listenHTTP builds the main listener per the configured TLS mode.
func (s *Server) listenHTTP() (net.Listener, error) {
	mode, err := security.ParseTLSMode(s.cfg.TLS.Mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case security.TLSModeSelfSigned:
		tlsCfg, paths, err := security.LoadOrGenerateTLS(s.cfg.DataDir)
		if err != nil {
			return nil, err
		}
		s.tlsPaths = paths
		return tls.Listen("tcp", s.cfg.Server.HTTPAddr, tlsCfg)
	case security.TLSModeCustom:
		tlsCfg, err := security.LoadCustomTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		return tls.Listen("tcp", s.cfg.Server.HTTPAddr, tlsCfg)
	case security.TLSModeACME:
		mgr, tlsCfg, err := security.NewACMEManager(s.cfg.DataDir, s.cfg.TLS.Domains)
		if err != nil {
			return nil, err
		}
		s.acme = mgr
		return tls.Listen("tcp", s.cfg.Server.HTTPAddr, tlsCfg)
	default:
		return net.Listen("tcp", s.cfg.Server.HTTPAddr)
	}
}

// serveWire accepts raw TCP consumers speaking the instruction
// protocol directly, without the WebSocket framing.
func (s *Server) serveWire(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Wire accept: %v", err)
			continue
		}
		go s.dispatcher.HandleConn(ctx, conn)
	}
}
