package main

import (
	"net/url"
	"regexp"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pricepaid/internal/config"
)

const redacted = "REDACTED"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the configuration after merging defaults, config.yaml and PRICEPAID_ environment variables. Secrets are redacted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(redactConfig(*cfg))
		if err != nil {
			return eris.Wrap(err, "config: marshal")
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// redactConfig returns a copy of c with credentials masked.
func redactConfig(c config.Config) config.Config {
	if c.Destination.Credential.Token != "" {
		c.Destination.Credential.Token = redacted
	}
	c.Destination.DSN = redactDSN(c.Destination.DSN)
	c.Pipeline.ExcludePropertyTypes = append([]string(nil), c.Pipeline.ExcludePropertyTypes...)
	return c
}

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|[^\s&]+)`)

// redactDSN masks the password of a URL or key=value connection string.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}"+redacted)
}
