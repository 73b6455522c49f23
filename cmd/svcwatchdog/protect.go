package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/svcwatchdogteam/svcwatchdog/internal/vault"
)

var protectPasswordFile string

var protectCmd = &cobra.Command{
	Use:   "protect <source> <target> [password]",
	Short: "Compute HMAC protection hashes for a configuration file",
	Long: "Read a JSON configuration containing a protectedSections array, compute\n" +
		"HMAC-SHA256 hashes for every listed section, and write the protected\n" +
		"configuration to the target file.",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := protectionPassword(args, 2)
		if err != nil {
			return err
		}

		root, err := loadJSONTree(args[0])
		if err != nil {
			return err
		}

		if err := vault.ProtectJson(root, password); err != nil {
			return err
		}

		if err := writeJSONTree(args[1], root); err != nil {
			return err
		}
		fmt.Printf("protected configuration written to %s\n", args[1])
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify-protection <file> [password]",
	Short: "Verify the HMAC protection hashes of a configuration file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := protectionPassword(args, 1)
		if err != nil {
			return err
		}

		root, err := loadJSONTree(args[0])
		if err != nil {
			return err
		}

		if err := vault.VerifyJsonProtection(root, password); err != nil {
			return err
		}
		fmt.Println("protection verified OK")
		return nil
	},
}

func protectionPassword(args []string, positionalIndex int) (string, error) {
	if len(args) > positionalIndex {
		return args[positionalIndex], nil
	}
	if protectPasswordFile == "" {
		return "", fmt.Errorf("no password given: pass it as an argument or via --password-file")
	}
	data, err := os.ReadFile(protectPasswordFile)
	if err != nil {
		return "", err
	}
	// The same byte policy the vault applies to its password file.
	var filtered []byte
	for _, c := range data {
		if c > 0x20 && c < 0x80 {
			filtered = append(filtered, c)
		}
	}
	return string(filtered), nil
}

func loadJSONTree(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	root := map[string]any{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return root, nil
}

func writeJSONTree(path string, root map[string]any) error {
	data, err := json.MarshalIndent(root, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func init() {
	protectCmd.Flags().StringVar(&protectPasswordFile, "password-file", "", "file holding the HMAC password")
	verifyCmd.Flags().StringVar(&protectPasswordFile, "password-file", "", "file holding the HMAC password")
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(verifyCmd)
}
