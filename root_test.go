package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLogger_Default(t *testing.T) {
	oldV, oldQ := flagVerbose, flagQuiet
	t.Cleanup(func() { flagVerbose, flagQuiet = oldV, oldQ })
	flagVerbose, flagQuiet = false, false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_Verbose(t *testing.T) {
	oldV, oldQ := flagVerbose, flagQuiet
	t.Cleanup(func() { flagVerbose, flagQuiet = oldV, oldQ })
	flagVerbose, flagQuiet = true, false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	oldV, oldQ := flagVerbose, flagQuiet
	t.Cleanup(func() { flagVerbose, flagQuiet = oldV, oldQ })
	flagVerbose, flagQuiet = false, true

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestCliContextFrom_NoneSet(t *testing.T) {
	assert.Nil(t, cliContextFrom(context.Background()))
}

func TestLoadClientContext_DerivesClientNameFromFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetContext(context.Background())

	oldName := flagClientName
	t.Cleanup(func() { flagClientName = oldName })
	flagClientName = "override-name"

	oldPath := flagConfigPath
	t.Cleanup(func() { flagConfigPath = oldPath })
	flagConfigPath = t.TempDir() + "/logos_config.json"

	require := assert.New(t)
	require.NoError(loadClientContext(cmd))

	cc := cliContextFrom(cmd.Context())
	require.NotNil(cc)
	require.Equal("override-name", cc.Config.ClientName)
}
