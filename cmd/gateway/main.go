// Command gateway runs the viewport gateway: it terminates consumer
// tunnels speaking the instruction protocol and brokers each one onto
// a remote VNC display.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/avaropoint/viewport/internal/config"
	"github.com/avaropoint/viewport/internal/gateway"
	"github.com/avaropoint/viewport/internal/security"
	"github.com/avaropoint/viewport/internal/store"
	"github.com/avaropoint/viewport/internal/tunnel"
	"github.com/avaropoint/viewport/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	wireListen := flag.String("wire-listen", "", "Wire protocol listen address (overrides config)")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	genKey := flag.String("gen-key", "", "Generate an API key with this name, print it, and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("viewport %s\n", version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if *listen != "" {
		cfg.Server.HTTPAddr = *listen
	}
	if *wireListen != "" {
		cfg.Server.WireAddr = *wireListen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	log.Printf("Gateway %s", version.String())

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("Data directory: %v", err)
	}

	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, "viewport.db"))
	if err != nil {
		log.Fatalf("Open store: %v", err)
	}
	defer st.Close() //nolint:errcheck

	if *genKey != "" {
		rec, raw, err := security.GenerateAPIKey(*genKey)
		if err != nil {
			log.Fatalf("Generate API key: %v", err)
		}
		if err := st.CreateAPIKey(context.Background(), rec); err != nil {
			log.Fatalf("Store API key: %v", err)
		}
		fmt.Println(raw)
		return
	}

	masterKey, err := security.LoadOrCreateKey(cfg.DataDir)
	if err != nil {
		log.Fatalf("Gateway key: %v", err)
	}
	box, err := security.NewBox(masterKey)
	if err != nil {
		log.Fatalf("Credential box: %v", err)
	}

	registry := tunnel.NewRegistry(cfg.TunnelIdleTimeout(), cfg.TunnelSweepInterval())
	dispatcher := &gateway.Dispatcher{Store: st, Registry: registry, Box: box, Config: cfg}

	srv := NewServer(cfg, st, box, registry, dispatcher)
	if err := srv.Run(context.Background()); err != nil {
		log.Fatalf("Gateway: %v", err)
	}
}

// loadConfig reads the named config file, or starts from defaults when
// no file is given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
