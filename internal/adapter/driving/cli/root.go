// Package cli implements the reelctl command tree on top of the REST API.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/reelqueue/internal/apiclient"
)

// DefaultServerURL is used when neither a flag, env var, nor config file
// names a server.
const DefaultServerURL = "http://127.0.0.1:8080"

// options carries the persistent flags shared by every subcommand.
type options struct {
	configPath string
	serverURL  string
	jwtSecret  string
	timeout    time.Duration
	jsonOut    bool

	client *apiclient.Client
}

// NewRootCmd builds the reelctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "reelctl",
		Short:         "Manage scheduled video posts on a reelqueue server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default ~/.config/reelctl/config.toml)")
	flags.StringVar(&opts.serverURL, "server", "", "reelqueue server URL")
	flags.StringVar(&opts.jwtSecret, "jwt-secret", "", "Shared secret used to sign API tokens")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	flags.BoolVar(&opts.jsonOut, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newAccountsCmd(opts),
		newPostsCmd(opts),
		newDashboardCmd(opts),
		newDispatchCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

// resolve merges flags, environment, and the config file into an API client.
// Flags win over REELCTL_ env vars, which win over the file.
func (o *options) resolve(cmd *cobra.Command) error {
	path := o.configPath
	if path == "" {
		path = defaultConfigPath()
	}
	fileCfg, err := loadFileConfig(path)
	if err != nil {
		return err
	}

	server := firstNonEmpty(o.serverURL, os.Getenv("REELCTL_SERVER"), fileCfg.Server, DefaultServerURL)
	secret := firstNonEmpty(o.jwtSecret, os.Getenv("REELCTL_JWT_SECRET"), fileCfg.JWTSecret)

	timeout := o.timeout
	if !cmd.Flags().Changed("timeout") && fileCfg.Timeout != "" {
		if timeout, err = time.ParseDuration(fileCfg.Timeout); err != nil {
			return fmt.Errorf("config %s: invalid timeout %q: %w", path, fileCfg.Timeout, err)
		}
	}

	o.client = apiclient.New(server, secret, newHTTPClient(timeout))
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "reelctl", "config.toml")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// printJSON writes v as indented JSON. It returns true when --json was set so
// callers can skip their text rendering.
func (o *options) printJSON(cmd *cobra.Command, v any) (bool, error) {
	if !o.jsonOut {
		return false, nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}
