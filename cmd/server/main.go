package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/blobarena/internal/gamelog"
	"github.com/Tyrowin/blobarena/internal/server"
	"github.com/Tyrowin/blobarena/internal/world"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to an ini config file")
	flag.Parse()

	gamelog.SetSource("arena")
	defer gamelog.Sync()

	config := server.NewConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfigFile(*configPath)
		if err != nil {
			gamelog.Fatalf("Cannot start: %v", err)
		}
		config = loaded
	}
	server.ApplyEnv(config)
	gamelog.SetLevel(gamelog.ParseLevel(config.LogLevel))

	hub := server.NewHub(*config, world.New())
	server.StartHub(hub)

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			gamelog.Errorf("HTTP server stopped: %v", err)
		}
	case s := <-sig:
		gamelog.Infof("Received %s, shutting down", s)
	}

	_ = server.ShutdownServer(httpServer, shutdownTimeout)
	_ = hub.Shutdown(shutdownTimeout)
}
