// Package credential supplies bearer tokens used as destination passwords.
package credential

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Provider returns an access token. Implementations may be called once per
// new connection, so short-lived tokens stay fresh.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", eris.New("credential: empty static token")
	}
	return string(s), nil
}

// Env reads the token from an environment variable on every call.
type Env string

func (e Env) Token(_ context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", eris.Errorf("credential: environment variable %s is empty", string(e))
	}
	return v, nil
}

// Command runs an external program and uses its trimmed stdout as the
// token, e.g. "az account get-access-token --query accessToken -o tsv".
type Command struct {
	Args    []string
	Timeout time.Duration // default 30s
}

func (c Command) Token(ctx context.Context) (string, error) {
	if len(c.Args) == 0 {
		return "", eris.New("credential: empty token command")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "credential: run %s: %s", c.Args[0], strings.TrimSpace(stderr.String()))
	}

	token := strings.TrimSpace(stdout.String())
	if token == "" {
		return "", eris.Errorf("credential: %s printed no token", c.Args[0])
	}
	return token, nil
}

// Config selects a provider. At most one field may be set.
type Config struct {
	Token        string `yaml:"token" mapstructure:"token"`
	TokenEnv     string `yaml:"token_env" mapstructure:"token_env"`
	TokenCommand string `yaml:"token_command" mapstructure:"token_command"`
}

// FromConfig builds the configured provider, or nil when none is set.
func FromConfig(cfg Config) (Provider, error) {
	var set int
	for _, v := range []string{cfg.Token, cfg.TokenEnv, cfg.TokenCommand} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nil, eris.New("credential: set only one of token, token_env, token_command")
	}

	switch {
	case cfg.Token != "":
		return Static(cfg.Token), nil
	case cfg.TokenEnv != "":
		return Env(cfg.TokenEnv), nil
	case cfg.TokenCommand != "":
		return Command{Args: strings.Fields(cfg.TokenCommand)}, nil
	default:
		return nil, nil
	}
}
