package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "batch-approval", root.Use)

	for _, name := range []string{"server", "migrate", "repair", "fga-model"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestServerCommand_Flags(t *testing.T) {
	host := serverCmd.Flags().Lookup("host")
	require.NotNil(t, host)
	assert.Equal(t, "0.0.0.0", host.DefValue)

	port := serverCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "8080", port.DefValue)
}

func TestRepairCommand_Flags(t *testing.T) {
	limit := repairCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "500", limit.DefValue)
	assert.NotNil(t, repairCmd.Flags().Lookup("timeout"))
}

func TestFGAModelCommand_PrintsModel(t *testing.T) {
	root := GetRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fga-model"})
	t.Cleanup(func() {
		root.SetOut(nil)
		root.SetArgs(nil)
	})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "type batch")
	assert.Contains(t, out.String(), "define approver: [user]")
}

func TestMigrateCommand_MissingConfigFile(t *testing.T) {
	root := GetRootCmd()
	root.SetArgs([]string{"migrate", "--config", "/nonexistent/batch-approval.yaml"})
	t.Cleanup(func() {
		root.SetArgs(nil)
		_ = root.PersistentFlags().Set("config", "")
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
