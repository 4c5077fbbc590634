package config

import (
	"bytes"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"
)

func newTestManager() Manager {
	cmd := &cobra.Command{}
	// Leaving this flag unset means that no attempt will be made to load
	// the config file
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a configuration file")
	return NewManager(cmd)
}

func TestConfigRoundtrip(t *testing.T) {
	// This test verifies that a config can be roundtripped through yaml.
	// Doing so ensures that config_dump will provide the correct config.
	// Newly added config values will automatically be tested in this
	// function because of the reflection on the config struct.
	man := newTestManager()

	// Use reflection magic to walk the config struct, setting unique
	// values to be verified on the roundtrip. Note that bools are always
	// set to true, which could false positive if the default value is
	// true.
	original := &CertwatchConfig{}
	v := reflect.ValueOf(original)
	for conf_index := 0; conf_index < v.Elem().NumField(); conf_index++ {
		conf_v := v.Elem().Field(conf_index)
		for key_index := 0; key_index < conf_v.NumField(); key_index++ {
			key_v := conf_v.Field(key_index)
			name := v.Elem().Type().Field(conf_index).Name + "_" + conf_v.Type().Field(key_index).Name
			switch key_v.Interface().(type) {
			case string:
				key_v.SetString(name)
			case []string:
				key_v.Set(reflect.ValueOf([]string{name + "_0", name + "_1"}))
			case int:
				key_v.SetInt(int64(conf_index*100 + key_index))
			case bool:
				key_v.SetBool(true)
			case time.Duration:
				d := time.Duration(conf_index*100 + key_index)
				key_v.Set(reflect.ValueOf(d))
			}
		}
	}

	// Marshal the generated config
	buf, err := yaml.Marshal(original)
	require.Nil(t, err)

	// Manually load the serialized config
	man.viper.SetConfigType("yaml")
	err = man.viper.ReadConfig(bytes.NewReader(buf))
	require.Nil(t, err)

	// Ensure the read config is the same as the original
	assert.Equal(t, *original, man.LoadConfig())
}

func TestConfigDefaults(t *testing.T) {
	saved := os.Environ()
	defer RestoreEnv(t, saved)
	os.Clearenv()

	conf := newTestManager().LoadConfig()
	assert.Equal(t, []string{"keystore"}, conf.Extractor.Enabled)
	assert.Equal(t, []string{"basic"}, conf.Notifier.Enabled)
	assert.Equal(t, 31, conf.Notifier.Days)
	assert.Equal(t, []string{"jks"}, conf.Keystore.Extensions)
	assert.Equal(t, 4, conf.Keystore.Concurrency)
	assert.Equal(t, 1, conf.Jira.Priority)
	assert.Equal(t, 2, conf.Basic.Priority)
	assert.Equal(t, 3, conf.Email.Priority)
	assert.Equal(t, 4, conf.Confluence.Priority)
	assert.Equal(t, "Alert certificate expiring soon.", conf.Email.Subject)
	assert.Equal(t, 30*time.Second, conf.Vault.Timeout)
	assert.Empty(t, conf.Crawler.Repositories)
}

func TestConfigEnv(t *testing.T) {
	saved := os.Environ()
	defer RestoreEnv(t, saved)
	os.Clearenv()

	require.NoError(t, os.Setenv("CERTWATCH_NOTIFIER_DAYS", "10"))
	require.NoError(t, os.Setenv("CERTWATCH_NOTIFIER_ENABLED", "jira, email"))
	require.NoError(t, os.Setenv("CERTWATCH_CRAWLER_REPOSITORIES", "https://git.example.com/ops/payments.git,https://git.example.com/ops/billing.git"))
	require.NoError(t, os.Setenv("CERTWATCH_SMTP_ENABLE_TLS", "false"))
	require.NoError(t, os.Setenv("CERTWATCH_JIRA_TIMEOUT", "5s"))

	man := newTestManager()
	conf := man.LoadConfig()
	assert.Equal(t, 10, conf.Notifier.Days)
	assert.Equal(t, []string{"jira", "email"}, conf.Notifier.Enabled)
	assert.Equal(t, []string{
		"https://git.example.com/ops/payments.git",
		"https://git.example.com/ops/billing.git",
	}, conf.Crawler.Repositories)
	assert.False(t, conf.SMTP.EnableTLS)
	assert.Equal(t, 5*time.Second, conf.Jira.Timeout)
	assert.True(t, man.IsSet("notifier.days"))
	assert.False(t, man.IsSet("jira.url"))
}

func TestConfigFlags(t *testing.T) {
	man := newTestManager()
	require.NoError(t, man.command.ParseFlags([]string{"--notifier_days=7", "--extractor_enabled=acm", "--extractor_enabled=keystore"}))
	conf := man.LoadConfig()
	assert.Equal(t, 7, conf.Notifier.Days)
	assert.Equal(t, []string{"acm", "keystore"}, conf.Extractor.Enabled)
}
