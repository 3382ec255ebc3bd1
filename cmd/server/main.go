package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-bff/gateway"
	"github.com/jrsteele09/go-bff/internal/config"
	"github.com/jrsteele09/go-bff/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(c *config.Config) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := buildGateway(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session repository")
		}
	}()

	displayAppname(c.AppName)
	g.StartSweepers(ctx)

	server := &http.Server{Addr: c.Address, Handler: g, ReadHeaderTimeout: readHeaderTimeout}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func buildGateway(ctx context.Context, c *config.Config) (*gateway.Gateway, error) {
	o, err := gateway.OptionsFromConfig(ctx, c)
	if err != nil {
		return nil, err
	}
	s, err := o.Build()
	if err != nil {
		return nil, err
	}

	var opts []gateway.Option
	if c.Metrics {
		opts = append(opts, gateway.WithMetrics(metrics.New()))
	}
	return gateway.New(ctx, s, opts...)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
