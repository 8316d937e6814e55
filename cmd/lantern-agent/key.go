package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lanternwallet/lantern-agent/internal/keys"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the wallet keystore",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a fresh wallet key into the keystore",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptPassphrase(true)
		if err != nil {
			return err
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		path, err := keys.Import(loadedCfg.KeystorePath, key, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("address:  %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("keystore: %s\n", path)
		return nil
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a hex private key into the keystore",
	Long:  "Import a private key. The key is read from stdin so it never lands in shell history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "private key (hex): ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		hexKey := strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x")
		key, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}

		passphrase, err := promptPassphrase(true)
		if err != nil {
			return err
		}
		path, err := keys.Import(loadedCfg.KeystorePath, key, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("address:  %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("keystore: %s\n", path)
		return nil
	},
}

var keyAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet address",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := promptPassphrase(false)
		if err != nil {
			return err
		}
		wallet, err := keys.Load(loadedCfg.KeystorePath, passphrase)
		if err != nil {
			return err
		}
		fmt.Println(wallet.Address().Hex())
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the wallet key (alias for key import)",
	RunE:  func(cmd *cobra.Command, args []string) error { return keyImportCmd.RunE(cmd, args) },
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(initCmd)
	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyImportCmd)
	keyCmd.AddCommand(keyAddressCmd)
}

// promptPassphrase reads the keystore passphrase from the terminal, or from
// LANTERN_PASSPHRASE when set, so scripts can run non-interactively.
func promptPassphrase(confirm bool) (string, error) {
	if p := os.Getenv("LANTERN_PASSPHRASE"); p != "" {
		return p, nil
	}

	fmt.Fprint(os.Stderr, "keystore passphrase: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if confirm {
		fmt.Fprint(os.Stderr, "repeat passphrase: ")
		second, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		if string(first) != string(second) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(first), nil
}
