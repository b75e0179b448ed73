// Command server runs a go-rawserver engine from a YAML configuration file:
// a minimal, real wiring of the package rather than a test.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WhileEndless/go-rawserver"
	"github.com/WhileEndless/go-rawserver/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML server configuration file")
	listen := flag.String("listen", "127.0.0.1:8080", "listen address, used when -config is not given")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.Listen = *listen
	}

	srv := rawserver.New(cfg)
	registerRoutes(srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown requested, draining connections")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func registerRoutes(srv *rawserver.Server) {
	srv.Router().Handle("GET", "/", rawserver.Handler(func(ctx *rawserver.Context) {
		ctx.SetHeader("Content-Type", "text/plain")
		ctx.Respond(200, []byte("go-rawserver "+rawserver.Version+"\n"))
	}))

	srv.Router().Handle("GET", "/healthz", rawserver.Handler(func(ctx *rawserver.Context) {
		ctx.Respond(200, []byte("ok"))
	}))

	srv.Router().Handle("GET", "/echo/:word", rawserver.Handler(func(ctx *rawserver.Context) {
		word := "?"
		for _, c := range ctx.Captures {
			if c.Key == "word" {
				word = c.Value
			}
		}
		ctx.SetHeader("Content-Type", "text/plain")
		ctx.Respond(200, []byte(fmt.Sprintf("echo: %s\n", word)))
	}))
}
