package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/email"
	"github.com/svcwatchdogteam/svcwatchdog/internal/events"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/metrics"
	"github.com/svcwatchdogteam/svcwatchdog/internal/service"
	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
	"github.com/svcwatchdogteam/svcwatchdog/internal/version"
	"github.com/svcwatchdogteam/svcwatchdog/internal/watchdog"
)

// defaultVaultPassword is used when no cryptoTools.passwordFile is
// configured. Encrypting configuration secrets with it hides them from
// a casual glance, nothing more; use a password file for real secrecy.
const defaultVaultPassword = "SvcWatchDog.p3pp3rm1nt"

var (
	flagInstall   bool
	flagUninstall bool
	flagState     bool
)

func init() {
	rootCmd.Flags().BoolVarP(&flagInstall, "install", "i", false, "install as an OS service")
	rootCmd.Flags().BoolVarP(&flagUninstall, "uninstall", "u", false, "uninstall the OS service")
	rootCmd.Flags().BoolVarP(&flagState, "state", "v", false, "print the installation state")
}

// app bundles the wired-up components for one supervisor instance.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	vault   *vault.Vault
	bus     *events.Bus
	metrics *metrics.Collector
	wd      *watchdog.Watchdog
	adapter *service.Adapter
}

// configPath locates the configuration next to the executable: same
// stem, .json extension, with .toml as the fallback syntax.
func configPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(exe, filepath.Ext(exe))

	jsonPath := stem + ".json"
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	tomlPath := stem + ".toml"
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	// Keep the .json name for the error message; that is the documented
	// location.
	return jsonPath, nil
}

// bootstrap loads configuration and starts the logging, secrets,
// metrics and supervision components, in dependency order.
func bootstrap() (*app, error) {
	cfgPath, err := configPath()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("unable to use configuration file %s: %w", cfgPath, err)
	}

	// The watchdog is created first: it changes into the working
	// directory, so relative log paths resolve from there.
	bus := events.NewBus()
	logger := logging.New()
	wd := watchdog.New(cfg, logger, bus)

	logger.Config(cfg, "log")
	logger.Start()

	v := vault.New(logger)
	v.Configure(cfg, "cryptoTools", defaultVaultPassword)

	email.ConfigureAll(cfg, logger, v, "log.email")

	collector := metrics.New()
	collector.SetBuildInfo(version.Version, runtime.Version())
	collector.Observe(bus)
	collector.Serve(cfg.GetString("metrics", "listen", ""))

	wd.Configure()

	return &app{
		cfg:     cfg,
		logger:  logger,
		vault:   v,
		bus:     bus,
		metrics: collector,
		wd:      wd,
		adapter: service.New(wd, cfg, logger, bus),
	}, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	// The logger outlives the supervisor so late shutdown records are
	// captured.
	defer a.logger.Shutdown()

	switch {
	case flagState:
		state := "not"
		if a.adapter.IsInstalled() {
			state = "currently"
		}
		fmt.Printf("The %s service is %s installed\n", a.wd.ServiceName(), state)
		return nil

	case flagInstall:
		if a.adapter.IsInstalled() {
			return fmt.Errorf("the %s service is already installed", a.wd.ServiceName())
		}
		if err := a.adapter.Install(); err != nil {
			return err
		}
		fmt.Printf("%s service installed\n", a.wd.ServiceName())
		return nil

	case flagUninstall:
		if !a.adapter.IsInstalled() {
			return fmt.Errorf("the %s service is not installed", a.wd.ServiceName())
		}
		if err := a.adapter.Uninstall(); err != nil {
			return err
		}
		fmt.Printf("%s service uninstalled\n", a.wd.ServiceName())
		return nil
	}

	return a.adapter.Run()
}
