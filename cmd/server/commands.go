package main

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/jrsteele09/go-bff/gateway"
	"github.com/jrsteele09/go-bff/internal/config"
	"github.com/jrsteele09/go-bff/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	loadConfig := func() (*config.Config, error) {
		c, err := config.Load(v, configFile)
		if err != nil {
			return nil, err
		}
		logging.Setup(c.Log.Level, c.Log.Unstructured)
		return c, nil
	}

	root := &cobra.Command{
		Use:           "bff",
		Short:         "Backend-for-frontend authentication gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	if err := v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level")); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind log-level flag")
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return report(err)
			}
			return report(run(c))
		},
	}
	serve.Flags().String("address", "", "Address to listen on (defaults to :$PORT or :8080)")
	if err := v.BindPFlag("address", serve.Flags().Lookup("address")); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind address flag")
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and reach every identity provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return report(err)
			}
			if err := validateConfig(cmd.Context(), c); err != nil {
				return report(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildVersion())
		},
	}

	root.AddCommand(serve, validate, versionCmd)
	return root
}

// validateConfig builds the whole gateway without serving it, so provider
// discovery and route conflicts are reported.
func validateConfig(ctx context.Context, c *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	o, err := gateway.OptionsFromConfig(ctx, c)
	if err != nil {
		return err
	}
	s, err := o.Build()
	if err != nil {
		return err
	}
	g, err := gateway.New(ctx, s)
	if err != nil {
		return err
	}
	for _, r := range g.Routes() {
		log.Info().Str("route", r.Name).Str("prefix", r.Prefix).Str("source", r.Source.String()).Msg("route")
	}
	return g.Close()
}

func report(err error) error {
	if err != nil {
		log.Error().Err(err).Msg("bff failed")
	}
	return err
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && version == "dev" && info.Main.Version != "" {
		return info.Main.Version
	}
	return version
}
