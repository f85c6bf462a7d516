package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/beaconmon/pkg/config"
)

func newLoggingCmd(t *testing.T, args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		configLevel string
		want        logrus.Level
		wantErr     bool
	}{
		{name: "uses configured level by default", configLevel: "warn", want: logrus.WarnLevel},
		{name: "log-level flag wins over config", args: []string{"--log-level", "error"}, configLevel: "debug", want: logrus.ErrorLevel},
		{name: "verbose selects debug", args: []string{"--verbose"}, configLevel: "info", want: logrus.DebugLevel},
		{name: "log-level flag wins over verbose", args: []string{"--verbose", "--log-level", "info"}, configLevel: "warn", want: logrus.InfoLevel},
		{name: "rejects unknown level", args: []string{"--log-level", "trace"}, configLevel: "info", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newLoggingCmd(t, tt.args...)
			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.configLevel

			logger, err := configureLogger(cmd, cfg, "verbose")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_NoVerboseFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")

	logger, err := configureLogger(cmd, config.DefaultConfig(), "")

	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
