package log

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func resetLogger() {
	// set clear logger as default
	baseLogger = zerolog.New(os.Stderr)
	// set flag off
	isLogInit = false
}

func createConfigAndSetEnv(text string) error {
	byteText := []byte(text)

	tmpfile, err := ioutil.TempFile("", "alloclog")
	if err != nil {
		return err
	}
	if _, err := tmpfile.Write(byteText); err != nil {
		return err
	}
	if err := tmpfile.Close(); err != nil {
		return err
	}

	envKey := confEnvPrefix + "_" + confFilePathKey
	os.Unsetenv(envKey)
	os.Setenv(envKey, tmpfile.Name())

	return nil
}

func createCleanLogger(configText string, moduleName string) (*Logger, error) {
	resetLogger()
	if err := createConfigAndSetEnv(configText); err != nil {
		return nil, err
	}
	return NewLogger(moduleName), nil
}

func TestDefaultConfig(t *testing.T) {
	logger := Default()
	assert.Equal(t, "info", logger.Level())
}

func TestBaseLevel(t *testing.T) {
	logger, err := createCleanLogger(`level = "debug"`, "test")
	assert.NoError(t, err)
	assert.Equal(t, "debug", logger.Level())
	assert.True(t, logger.IsDebugEnabled())
}

func TestSubModuleLevel(t *testing.T) {
	configText := `
level = "info"

[ledger]
level = "error"
`
	logger, err := createCleanLogger(configText, "ledger")
	assert.NoError(t, err)
	assert.Equal(t, "error", logger.Level())

	resetLogger()
	other := NewLogger("db")
	assert.Equal(t, "info", other.Level())
}
