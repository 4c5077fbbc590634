package main

import (
	"fmt"

	"github.com/fleetdm/certwatch/server/config"
	"github.com/pkg/errors"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

const redactedValue = "********"

// secretKeys are the yaml keys whose values are hidden unless --show-secrets
// is passed.
var secretKeys = map[string]bool{
	"password":          true,
	"token":             true,
	"secret_access_key": true,
}

func createConfigDumpCmd(configManager config.Manager) *cobra.Command {
	var (
		section     string
		showSecrets bool
	)
	var configDumpCmd = &cobra.Command{
		Use:   "config_dump",
		Short: "Dump the merged certwatch configuration in yaml format",
		Long: `
Dump the merged certwatch configuration in yaml format.

Options are grouped by key: logging, extractor, aws, crawler, vault, keystore,
notifier, jira, confluence, email, smtp, basic, export and metrics. Each key can
be set as a flag (--jira_url), an environment variable (CERTWATCH_JIRA_URL) or
in the config file (jira: url:).

The following precedence is used when reading configs:
1. CLI flags
2. Environment Variables
3. Config File
4. Default Values

Passwords, tokens and the AWS secret key are replaced with ` + redactedValue + `
unless --show-secrets is given. Use --section to print a single group.
`,
		Run: func(cmd *cobra.Command, args []string) {
			out, err := dumpConfig(configManager.LoadConfig(), section, showSecrets)
			if err != nil {
				initFatal(err, "dumping config")
			}
			fmt.Println(out)
		}}

	configDumpCmd.Flags().StringVar(&section, "section", "", "Only dump this configuration group (e.g. jira)")
	configDumpCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords, tokens and secret keys in clear")

	return configDumpCmd
}

func dumpConfig(cfg config.CertwatchConfig, section string, showSecrets bool) (string, error) {
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "marshalling config to yaml")
	}
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return "", errors.Wrap(err, "reading marshalled config")
	}

	if !showSecrets {
		doc = redactSecrets(doc)
	}

	var out interface{} = doc
	if section != "" {
		found := false
		for _, item := range doc {
			if key, _ := item.Key.(string); key == section {
				out = yaml.MapSlice{item}
				found = true
				break
			}
		}
		if !found {
			return "", errors.Errorf("unknown config section %q", section)
		}
	}

	buf, err = yaml.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, "marshalling config to yaml")
	}
	return string(buf), nil
}

func redactSecrets(m yaml.MapSlice) yaml.MapSlice {
	res := make(yaml.MapSlice, 0, len(m))
	for _, item := range m {
		key, _ := item.Key.(string)
		switch v := item.Value.(type) {
		case yaml.MapSlice:
			item.Value = redactSecrets(v)
		case string:
			if secretKeys[key] && v != "" {
				item.Value = redactedValue
			}
		}
		res = append(res, item)
	}
	return res
}
