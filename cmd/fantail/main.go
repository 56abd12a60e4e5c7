// Command fantail runs an example server built on the framework: it loads
// configuration, wires a handful of demonstration routes, and serves HTTP
// with graceful shutdown on SIGINT/SIGTERM. Grounded on
// tbsphathuynh-proxy/cmd/proxy/main.go's flag-parse, signal-channel,
// timed-shutdown shape.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onclave/fantail"
	"github.com/onclave/fantail/config"
	"github.com/onclave/fantail/dispatch"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, defaults applied otherwise)")
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app := fantail.New(cfg)
	registerDemoRoutes(app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &http.Server{Addr: *addr, Handler: app}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("fantail listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-sigCh
	log.Println("received termination signal, shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during http shutdown: %v", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during framework shutdown: %v", err)
	}
	log.Println("fantail stopped")
}

func registerDemoRoutes(app *fantail.Framework) {
	app.Get("/greet/{name}", func(ctx *dispatch.Context) (any, error) {
		name, err := dispatch.PathParam[string](ctx, "name")
		if err != nil {
			return nil, err
		}
		return map[string]string{"greeting": "hello, " + name}, nil
	}, "demo")

	app.Post("/echo", func(ctx *dispatch.Context) (any, error) {
		var body map[string]any
		decoded, err := dispatch.BindBody[map[string]any](ctx)
		if err != nil {
			return nil, err
		}
		body = *decoded
		return body, nil
	}, "demo")

	app.Get("/slow", func(ctx *dispatch.Context) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return map[string]string{"status": "done"}, nil
		case <-ctx.Request.Context().Done():
			return nil, ctx.Request.Context().Err()
		}
	}, "demo")

	// Tagged "cacheable": repeated GETs are served straight out of the
	// dispatcher's response micro-cache instead of re-running this handler.
	app.Get("/stats/summary", func(ctx *dispatch.Context) (any, error) {
		return map[string]any{"generated_at": time.Now().Unix()}, nil
	}, "demo", "cacheable")
}
