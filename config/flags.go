package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Options are the command line flags of the daemon.
type Options struct {
	ConfigPath string
	Setup      bool
}

// Get parses command line flags and loads the configuration. Without --config
// the operator and fee are taken from flags, everything else uses defaults.
func Get() (Config, Options, error) {
	return get(flag.CommandLine, os.Args[1:])
}

func get(fs *flag.FlagSet, args []string) (Config, Options, error) {
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&opts.Setup, "setup", false, "run the configuration wizard")
	operator := fs.String("operator", "", "operator account allowed to withdraw the treasury, hex address")
	feeBps := fs.Uint64("feebps", DefaultFeeBps, "platform fee in basis points, 0-10000")
	httpAddr := fs.String("http", DefaultHTTPAddr, "http listen address")
	walDir := fs.String("waldir", DefaultWALDir, "journal directory")
	debug := fs.Bool("debug", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}

	if opts.Setup {
		return Config{}, opts, nil
	}
	if opts.ConfigPath != "" {
		cfg, err := getYaml(opts.ConfigPath)
		return cfg, opts, err
	}

	if *operator == "" {
		return Config{}, opts, fmt.Errorf("either --config or --operator must be provided")
	}
	cfg, err := ConfigTmp{
		Operator:          *operator,
		PlatformFeeBpsStr: strconv.FormatUint(*feeBps, 10),
		HTTPAddr:          *httpAddr,
		WALDir:            *walDir,
		Debug:             *debug,
	}.Build()
	if err != nil {
		return Config{}, opts, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, opts, nil
}
