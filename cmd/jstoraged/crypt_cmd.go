package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/jstorage/pkg/crypt"
	"github.com/cuemby/jstorage/pkg/jserr"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var cryptCmd = &cobra.Command{
	Use:   "crypt",
	Short: "Manage at-rest encryption",
}

var cryptInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the encryption password for this data directory",
	Long: `Init prompts for a password, derives a key via Argon2id and stores
the salt and verifier in <data-dir>/config/js2crypt so "serve" can
re-derive the same key on every subsequent start. Init never touches
existing shard data; a database only begins writing JS2-encoded shards
once Database.SetEncryption(true) is called through the "database
encrypt" subcommand.`,
	RunE: runCryptInit,
}

func init() {
	cryptCmd.AddCommand(cryptInitCmd)
}

// cryptFile is the on-disk shape of <data-dir>/config/js2crypt,
// holding just enough to re-derive and verify
// the key on a later start: the raw password is never persisted.
type cryptFile struct {
	Salt     string `json:"salt"`
	Verifier string `json:"verifier"`
}

func cryptFilePath(dataDir string) string {
	return filepath.Join(dataDir, "config", "js2crypt")
}

func runCryptInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ct, verifier, err := crypt.InitInteractive(promptPassword, nil, nil)
	if err != nil {
		return fmt.Errorf("initialize crypt tool: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "config"), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	salt := ct.Salt()
	if len(salt) == 0 {
		return jserr.New(jserr.CryptNotReady, "crypt tool has no salt")
	}

	cf := cryptFile{
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Verifier: base64.StdEncoding.EncodeToString(verifier),
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crypt file: %w", err)
	}
	if err := os.WriteFile(cryptFilePath(cfg.DataDir), data, 0o600); err != nil {
		return fmt.Errorf("write crypt file: %w", err)
	}

	fmt.Println("Encryption password set. Enable it per-database with 'jstoraged database encrypt <name> --enable'.")
	return nil
}

// promptPassword reads a password from the controlling terminal without
// echoing it, falling back to a plain line read when stdin isn't a TTY
// (non-interactive test runs, piped input).
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// loadCryptTool re-derives the CryptTool from <data-dir>/config/js2crypt if
// present, taking the password from JSTORAGE_PASSWORD (or prompting for it
// when that is unset) and verifying it against the stored
// verifier. It returns CryptNotReady if no crypt file exists yet, letting
// callers start unencrypted.
func loadCryptTool(dataDir string) (*crypt.CryptTool, error) {
	raw, err := os.ReadFile(cryptFilePath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jserr.New(jserr.CryptNotReady, "no crypt file at %s", cryptFilePath(dataDir))
		}
		return nil, fmt.Errorf("read crypt file: %w", err)
	}
	var cf cryptFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse crypt file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(cf.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	verifier, err := base64.StdEncoding.DecodeString(cf.Verifier)
	if err != nil {
		return nil, fmt.Errorf("decode verifier: %w", err)
	}

	password := os.Getenv("JSTORAGE_PASSWORD")
	var ct *crypt.CryptTool
	if password != "" {
		ct, _, err = crypt.Init(password, salt, verifier)
	} else {
		ct, _, err = crypt.InitInteractive(promptPassword, salt, verifier)
	}
	if err != nil {
		return nil, fmt.Errorf("unlock crypt tool: %w", err)
	}
	return ct, nil
}
