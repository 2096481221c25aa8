package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filedrop/internal/config"
	"filedrop/internal/dropdir"
	"filedrop/internal/endpoint"
	"filedrop/internal/httpserver"
	"filedrop/internal/pages"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dir, err := dropdir.Open(cfg.Dir)
	if err != nil {
		log.Fatalf("drop directory: %v", err)
	}
	log.Printf("Storing files in %s", dir.Path())

	eps, err := endpoint.Discover(endpoint.SystemSource{}, endpoint.Options{
		Port:    cfg.Port,
		Host:    cfg.Host,
		Gateway: endpoint.SystemGateway,
	})
	if err != nil {
		// The page still works for whoever can reach us; it just has no
		// connection list.
		log.Printf("Warning: failed to list network interfaces: %v", err)
	}
	for _, ep := range eps {
		log.Printf("Listening at %s (%s)", ep.URL, ep.Interface)
	}

	var src pages.Source
	if cfg.Templates != "" {
		fsrc, err := pages.Watch(cfg.Templates, nil)
		if err != nil {
			log.Fatalf("templates: %v", err)
		}
		defer fsrc.Close()
		log.Printf("Using templates from %s", cfg.Templates)
		src = fsrc
	} else if src, err = pages.Embedded(); err != nil {
		log.Fatalf("built-in templates: %v", err)
	}

	srv, err := httpserver.New(httpserver.Options{
		Config:    cfg,
		Dir:       dir,
		Endpoints: eps,
		Pages:     src,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()

	if cfg.TerminalQR {
		if ep, ok := endpoint.Preferred(eps); ok {
			fmt.Printf("\nScan the QR code below to open %s\n", ep.URL)
			endpoint.PrintTerminal(os.Stdout, ep.URL)
		}
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: shutdown: %v", err)
		}
	}
}
