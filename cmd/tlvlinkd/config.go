package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/danmuck/tlvlink/internal/config"
)

// options holds command-line flags. Flags that were set win over the
// config file.
type options struct {
	configPath  string
	listen      string
	admin       string
	logLevel    string
	transform   string
	writeConfig string
	force       bool
	printConfig bool

	flags *pflag.FlagSet
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("tlvlinkd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")
	fs.StringVar(&opts.listen, "listen", "", "protocol listen address")
	fs.StringVar(&opts.admin, "admin", "", "admin HTTP listen address, empty string disables it")
	fs.StringVar(&opts.logLevel, "log-level", "", "trace|debug|info|warn|error|disabled")
	fs.StringVar(&opts.transform, "transform", "", "body transform: none|lz4|zstd")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write a starter config to this path and exit")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing file with --write-config")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the resolved config and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.flags = fs
	return opts, nil
}

// resolveConfig loads the config file when given, then applies flags.
func resolveConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.flags != nil {
		if opts.flags.Changed("listen") {
			cfg.Listen = strings.TrimSpace(opts.listen)
		}
		if opts.flags.Changed("admin") {
			cfg.AdminListen = strings.TrimSpace(opts.admin)
		}
		if opts.flags.Changed("log-level") {
			cfg.LogLevel = strings.TrimSpace(opts.logLevel)
		}
		if opts.flags.Changed("transform") {
			cfg.Transform = strings.TrimSpace(opts.transform)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("tlvlinkd config: %w", err)
	}
	return cfg, nil
}

func printConfig(cfg config.Config) error {
	out, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
