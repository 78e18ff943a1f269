// Command cdpgateway runs the CDP gateway and session multiplexer as a
// standalone process, fronting one or more browser surfaces behind a single
// Chrome DevTools Protocol endpoint.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/cdpgateway/internal/cdpgateway"
	gwconfig "github.com/neboloop/cdpgateway/internal/config"
	"github.com/neboloop/cdpgateway/internal/events"
	"github.com/neboloop/cdpgateway/internal/fleet"
	"github.com/neboloop/cdpgateway/internal/logging"
	"github.com/neboloop/cdpgateway/internal/session"
	"github.com/neboloop/cdpgateway/internal/surface"
)

//go:embed etc/cdpgateway.yaml
var embeddedConfig []byte

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "cdpgateway",
		Short: "CDP gateway and session multiplexer",
		Run:   run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config overriding the built-in defaults")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	data := embeddedConfig
	if configPath != "" {
		b, err := os.ReadFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
			os.Exit(1)
		}
		data = b
	}

	c, err := gwconfig.LoadFromBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if c.Log.Level == "debug" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		logging.Disable()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("received signal: %v, shutting down\n", sig)
		cancel()
	}()

	store := fleet.New()
	bus := events.NewSubject(events.WithSyncDelivery())
	memSurface := surface.NewMemSurface(500 * time.Millisecond)
	supervisor := surface.NewSupervisor(store, memSurface, bus)
	mux := session.NewMultiplexer(memSurface)

	gw := cdpgateway.New(store, supervisor, mux, bus, cdpgateway.Options{
		TestEndpointsEnabled: c.IsTestEndpointsEnabled(),
		CommandsPerMinute:    c.RateLimit.CommandsPerMinute,
		Burst:                c.RateLimit.Burst,
	})
	defer gw.Close()

	httpServer := &http.Server{
		Addr:        c.Addr(),
		Handler:     gw.Router(),
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		fmt.Printf("cdpgateway listening on %s\n", c.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
