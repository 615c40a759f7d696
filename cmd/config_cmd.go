package main

import (
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soundguard-ai/soundguard/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

func writeConfig(out io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(redactConfig(*c)); err != nil {
		return err
	}
	return enc.Close()
}

// redactConfig returns a copy with credentials masked.
func redactConfig(c config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Storage.Azure.Key)
	mask(&c.Storage.FTP.Password)
	mask(&c.Storage.SFTP.Password)
	if c.Store.DatabaseURL != "" && c.Store.Driver == "postgres" {
		c.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	}
	return c
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
