package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/thesyncim/godl/pkg/dl"
	"github.com/thesyncim/godl/pkg/locate"
)

// app holds the state shared by every subcommand.
type app struct {
	cfgFile string
	verbose bool

	v      *viper.Viper
	logger *zap.Logger
	cfg    locate.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "dlprobe",
		Short: "Inspect shared libraries",
		Long: `dlprobe opens shared libraries and looks up their symbols.

A library argument without a dot or a path separator is a base name, resolved
the way "dlprobe locate" does. Anything else is handed to the system loader
as is.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Config file (default is $HOME/.dlprobe.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log loader activity to stderr")
	flags.StringSlice("search-dir", nil, "Directory to search for libraries (repeatable)")
	flags.String("env-var", "", "Environment variable holding an explicit library path")
	flags.String("manifest", "", "Manifest describing downloadable libraries")
	flags.String("flavor", "", "Manifest flavor")
	flags.String("cache-dir", "", "Download cache directory (default is $HOME/.godl)")
	flags.String("base-url", "", "Override the manifest's download URL")
	flags.Bool("no-download", false, "Never download libraries")

	for key, flag := range map[string]string{
		"search_dirs":      "search-dir",
		"env_var":          "env-var",
		"manifest":         "manifest",
		"flavor":           "flavor",
		"cache_dir":        "cache-dir",
		"base_url":         "base-url",
		"disable_download": "no-download",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	a.v.SetDefault("flags", 0)

	cmd.AddCommand(
		newFilenameCmd(a),
		newLocateCmd(a),
		newOpenCmd(a),
		newFindCmd(a),
		newCallCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	if a.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		a.logger = logger
		dl.SetLogger(logger)
	}

	a.v.SetEnvPrefix("DLPROBE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		a.v.AddConfigPath(home)
		a.v.SetConfigName(".dlprobe")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("can't read config: %w", err)
		}
	} else {
		a.logger.Debug("config loaded", zap.String("file", a.v.ConfigFileUsed()))
	}

	if err := a.v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (a *app) locator() *locate.Locator {
	return locate.New(a.cfg, locate.WithLogger(a.logger))
}
