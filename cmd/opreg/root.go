package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexisbeaulieu97/opreg/internal/config"
	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/logger"
	"github.com/alexisbeaulieu97/opreg/internal/module"
)

type rootFlags struct {
	configFile string
	viper      *viper.Viper
	// catalog holds modules linked into the binary; nil means plugins only.
	catalog *loadscope.Catalog
}

func newRootCmd(catalog *loadscope.Catalog) *cobra.Command {
	flags := &rootFlags{viper: config.NewViper(), catalog: catalog}

	cmd := &cobra.Command{
		Use:           "opreg",
		Short:         "opreg loads operator modules and reports the types they register",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Path to a configuration file (default ./opreg.yaml)")
	pf.String("log-level", "info", "Log level: trace, debug, info, warn or error")
	pf.Int("workers", 0, "Concurrent type extraction workers (0 uses GOMAXPROCS)")
	pf.String("module-dir", ".", "Directory searched for module binaries")
	pf.Bool("human-readable", true, "Write console logs instead of JSON")

	_ = flags.viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = flags.viper.BindPFlag("workers", pf.Lookup("workers"))
	_ = flags.viper.BindPFlag("module_dir", pf.Lookup("module-dir"))
	_ = flags.viper.BindPFlag("human_readable", pf.Lookup("human-readable"))

	cmd.AddCommand(newInspectCmd(flags))
	cmd.AddCommand(newDepsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// AppContext bundles the services a command needs once flags are parsed.
type AppContext struct {
	Config  *config.Config
	Logger  *logger.Logger
	Options *module.Options
}

func (f *rootFlags) appContext(cmd *cobra.Command) (*AppContext, error) {
	if f.configFile != "" {
		f.viper.SetConfigFile(f.configFile)
	}

	cfg, err := config.Load(f.viper)
	if err != nil {
		return nil, newCommandError("load configuration", valueOrFallback(f.configFile, "defaults and environment"), err,
			"Check the configuration file and any OPREG_* environment variables.")
	}

	log, err := logger.New(logger.Options{
		Level:         cfg.LogLevel,
		HumanReadable: cfg.HumanReadable,
		Writer:        cmd.ErrOrStderr(),
		Component:     "opreg",
	})
	if err != nil {
		return nil, newCommandError("configure logging", cfg.LogLevel, err, "Use one of trace, debug, info, warn or error.")
	}

	return &AppContext{
		Config:  cfg,
		Logger:  log,
		Options: module.OptionsFromConfig(cfg, f.catalog),
	}, nil
}
