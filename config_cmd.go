package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# deployment serving the reader's assets
origin: "https://bhagavadgita.example"

# style name or JSON path (default "auto")
style: "auto"
# word-wrap at width (0 to detect)
width: 0

# offline cache
cache:
  # changing the version installs a new bucket and drops the old ones
  # version: "1.0.8"
  # dir: "~/.cache/sarthi"
  recitation_prefix: "/assets/verse_recitation/"
  # zstd level (0 disables compression)
  compression_level: 3
  # in-memory read layer shared by all buckets
  hot_size_mb: 32
  fetch_timeout: "30s"
  concurrency: 6

# saved preferences, chat history and translations
store:
  # path: "~/.local/share/sarthi/sarthi.db"
  ephemeral: false

# AI guide (the key is read from GEMINI_API_KEY or set with "sarthi key set")
ai:
  chat_model: "gemini-2.5-flash-lite"
  translation_model: "gemini-2.5-flash-lite"
  temperature: 0.7
  max_output_tokens: 800
  timeout: "60s"
  requests_per_minute: 30

# local server started by "sarthi serve"
serve:
  listen: "127.0.0.1:8080"
  allowed_origins: []
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the sarthi config file",
	Long:    paragraph(fmt.Sprintf("\n%s the sarthi config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("sarthi config\nsarthi config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Sarthi", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
