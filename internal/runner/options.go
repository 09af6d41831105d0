package runner

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fleetpatch/fleetpatch/pkg/version"
	"github.com/logrusorgru/aurora/v4"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	envutil "github.com/projectdiscovery/utils/env"
	fileutil "github.com/projectdiscovery/utils/file"
)

var au *aurora.Aurora

var (
	// retrieve home directory or fail
	homeDir = func() string {
		home, err := os.UserHomeDir()
		if err != nil {
			gologger.Fatal().Msgf("Failed to get user home directory: %s", err)
		}
		return home
	}()

	defaultConfigLocation = filepath.Join(homeDir, ".config/fleetpatch/config.yaml")
	defaultKeyDir         = filepath.Join(homeDir, ".config/fleetpatch")

	defaultUsername = envutil.GetEnvOrDefault("FLEETPATCH_USER", "")
)

var (
	errNoUsername  = errors.New("remote username is required (-user)")
	errNoTargets   = errors.New("no targets: pass -hosts or -inventory")
	errKeepSetSize = errors.New("exactly two kernel versions must be kept (-keep)")
)

// Options contains the configuration options for one patch run.
type Options struct {
	ConfigFile string
	KeyDir     string

	Username      string
	Hosts         goflags.StringSlice
	InventoryFile string
	KeyFile       string

	KeepKernels goflags.StringSlice

	Concurrency    int
	CommandTimeout int
	PatchTimeout   int
	RebootGrace    int
	RebootWait     int

	Verbose bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`fleetpatch orchestrates kernel patching across a fleet of remote hosts: ephemeral SSH trust, prechecks, kernel retention, package updates, reboot and verification.`)

	flagSet.CreateGroup("input", "Target",
		flagSet.StringVarP(&options.Username, "user", "u", defaultUsername, "ssh username on the remote hosts"),
		flagSet.StringSliceVarP(&options.Hosts, "hosts", "H", nil, "remote hosts to patch (comma separated)", goflags.NormalizedStringSliceOptions),
		flagSet.StringVarP(&options.InventoryFile, "inventory", "inv", "", "ansible INI host file to read targets from"),
	)

	flagSet.CreateGroup("auth", "Auth",
		flagSet.StringVarP(&options.KeyFile, "key-file", "k", "", "private key for the remote user (reads stdin when omitted)"),
		flagSet.StringVar(&options.KeyDir, "key-dir", defaultKeyDir, "directory holding the generated control keypair"),
	)

	flagSet.CreateGroup("patch", "Patch",
		flagSet.StringSliceVarP(&options.KeepKernels, "keep", "kk", nil, "two kernel versions to keep installed (comma separated)", goflags.NormalizedStringSliceOptions),
		flagSet.IntVarP(&options.RebootGrace, "reboot-grace", "rg", 30, "seconds to wait before first polling a rebooting host"),
		flagSet.IntVarP(&options.RebootWait, "reboot-wait", "rw", 600, "maximum seconds to wait for a host to come back"),
	)

	flagSet.CreateGroup("rate-limit", "Rate-Limit",
		flagSet.IntVarP(&options.Concurrency, "concurrency", "c", 8, "number of hosts to patch in parallel"),
		flagSet.IntVarP(&options.CommandTimeout, "timeout", "t", 60, "timeout in seconds for quick remote commands"),
		flagSet.IntVarP(&options.PatchTimeout, "patch-timeout", "pt", 1800, "timeout in seconds for package manager operations"),
	)

	flagSet.CreateGroup("config", "Config",
		flagSet.StringVar(&options.ConfigFile, "config", defaultConfigLocation, "cli flag configuration file"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	// configure aurora for report coloring
	au = aurora.New(aurora.WithColors(!options.NoColor))

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.GetVersion())
		os.Exit(0)
	}

	if options.ConfigFile != defaultConfigLocation {
		if err := options.loadConfigFrom(options.ConfigFile); err != nil {
			gologger.Fatal().Msgf("Could not load config file %s: %s\n", options.ConfigFile, err)
		}
	}

	if err := options.validate(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

func (options *Options) validate() error {
	if options.Username == "" {
		return errNoUsername
	}
	if len(options.Hosts) == 0 && options.InventoryFile == "" {
		return errNoTargets
	}
	if len(options.KeepKernels) != 2 {
		return errKeepSetSize
	}
	return nil
}

func (options *Options) loadConfigFrom(location string) error {
	data, err := os.ReadFile(location)
	if err != nil {
		return err
	}
	return fileutil.Unmarshal(fileutil.YAML, data, options)
}
