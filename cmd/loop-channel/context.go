package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
)

type commandContext struct {
	configFlag *string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// loadStore builds the configuration from the config file and the flags
// explicitly set on cmd. The same overrides are replayed on every reload.
func (c *commandContext) loadStore(cmd *cobra.Command) (*config.Store, error) {
	store, err := config.NewStore(c.configPath(), config.Overrides(cmd.Flags()))
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return store, nil
}

// addConfigFlags registers every configuration option on cmd. Parsed values
// are only read back through config.Overrides.
func addConfigFlags(cmd *cobra.Command) {
	config.BindFlags(cmd.Flags(), config.DefaultConfig())
}

func wrapConnectError(err error, addr string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to channel: %s refused the connection; verify loop-channel run is listening there", addr)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("connect to channel: %s timed out", addr)
	default:
		return fmt.Errorf("connect to channel: %w", err)
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
