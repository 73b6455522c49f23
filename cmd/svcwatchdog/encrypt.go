package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/svcwatchdogteam/svcwatchdog/internal/config"
	"github.com/svcwatchdogteam/svcwatchdog/internal/logging"
	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
)

var encryptPassword string

var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt a secret for use in the configuration file",
	Long: "Encrypt a secret with the vault password so it can be stored in the\n" +
		"configuration file. Without --password the vault password comes from the\n" +
		"configured cryptoTools.passwordFile, falling back to the built-in default.\n" +
		"The plaintext is prompted for when not given as an argument.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// A stopped logger drops the vault's diagnostics; this command
		// only talks through stdout.
		logger := logging.New()

		v := vault.New(logger)
		if encryptPassword != "" {
			v.Configure(config.New(nil), "", encryptPassword)
		} else {
			cfg := loadConfigOrEmpty()
			v.Configure(cfg, "cryptoTools", defaultVaultPassword)
		}

		var plain string
		if len(args) == 1 {
			plain = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Secret: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("cannot read the secret: %w", err)
			}
			plain = strings.TrimRight(string(raw), "\r\n")
		}

		encrypted, err := v.Encrypt(plain)
		if err != nil {
			return err
		}
		fmt.Println(encrypted)
		return nil
	},
}

func loadConfigOrEmpty() *config.Config {
	path, err := configPath()
	if err != nil {
		return config.New(nil)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.New(nil)
	}
	return cfg
}

func init() {
	encryptCmd.Flags().StringVar(&encryptPassword, "password", "", "vault password to derive the key from")
	rootCmd.AddCommand(encryptCmd)
}
