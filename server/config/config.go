package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "CERTWATCH"
)

// LoggingConfig defines configs related to logging
type LoggingConfig struct {
	Debug bool
	JSON  bool
}

// ExtractorConfig selects the certificate sources.
type ExtractorConfig struct {
	Enabled []string
}

// AWSConfig defines configs for the AWS Certificate Manager source
type AWSConfig struct {
	Region           string
	EndpointURL      string `yaml:"endpoint_url"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	StsAssumeRoleArn string `yaml:"sts_assume_role_arn"`
}

// CrawlerConfig defines configs for the discovery of keystore archives in
// git repositories
type CrawlerConfig struct {
	Repositories   []string
	User           string
	Token          string
	ScratchDir     string   `yaml:"scratch_dir"`
	IgnoreSuffixes []string `yaml:"ignore_suffixes"`
}

// VaultConfig defines configs for the KeePass vault holding the archive
// passwords
type VaultConfig struct {
	CLIPath      string `yaml:"cli_path"`
	DatabaseName string `yaml:"database_name"`
	WorkingPath  string `yaml:"working_path"`
	Password     string
	Timeout      time.Duration
}

// KeystoreConfig defines configs for the keystore archive source
type KeystoreConfig struct {
	Extensions  []string
	Concurrency int
}

// NotifierConfig selects the notification channels and the notification
// window.
type NotifierConfig struct {
	Enabled []string
	Days    int
}

// JiraConfig defines configs for the ticket channel
type JiraConfig struct {
	URL        string
	Username   string
	Password   string
	Token      string
	ProjectKey string `yaml:"project_key"`
	Label      string
	IssueType  string `yaml:"issue_type"`
	Priority   int
	Timeout    time.Duration
}

// ConfluenceConfig defines configs for the digest attachment channel
type ConfluenceConfig struct {
	URL          string
	Username     string
	Password     string
	Token        string
	ContentID    string `yaml:"content_id"`
	AttachmentID string `yaml:"attachment_id"`
	Priority     int
	Timeout      time.Duration
}

// EmailConfig defines configs for the e-mail channel
type EmailConfig struct {
	From     string
	To       []string
	Subject  string
	Intro    string
	Priority int
}

// SMTPConfig defines configs for the SMTP server used by the e-mail channel
type SMTPConfig struct {
	Server         string
	Port           int
	Username       string
	Password       string
	AuthMethod     string `yaml:"auth_method"`
	EnableTLS      bool   `yaml:"enable_tls"`
	EnableStartTLS bool   `yaml:"enable_start_tls"`
	VerifySSLCerts bool   `yaml:"verify_ssl_certs"`
}

// BasicConfig defines configs for the console channel
type BasicConfig struct {
	Priority int
}

// ExportConfig defines where the overview files are written
type ExportConfig struct {
	Dir string
}

// MetricsConfig defines configs for the Pushgateway receiving the run
// metrics
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string
	Username       string
	Password       string
	Timeout        time.Duration
}

// CertwatchConfig stores the application configuration. Each subcategory is
// broken up into it's own struct, defined above. When editing any of these
// structs, Manager.addConfigs and Manager.LoadConfig should be updated to set
// and retrieve the configurations as appropriate.
type CertwatchConfig struct {
	Logging    LoggingConfig
	Extractor  ExtractorConfig
	AWS        AWSConfig `yaml:"aws"`
	Crawler    CrawlerConfig
	Vault      VaultConfig
	Keystore   KeystoreConfig
	Notifier   NotifierConfig
	Jira       JiraConfig
	Confluence ConfluenceConfig
	Email      EmailConfig
	SMTP       SMTPConfig `yaml:"smtp"`
	Basic      BasicConfig
	Export     ExportConfig
	Metrics    MetricsConfig
}

// addConfigs adds the configuration keys and default values that will be
// filled into the CertwatchConfig struct
func (man Manager) addConfigs() {
	// Logging
	man.addConfigBool("logging.debug", false,
		"Enable debug logging")
	man.addConfigBool("logging.json", false,
		"Log in JSON format")

	// Extraction
	man.addConfigStringSlice("extractor.enabled", []string{"keystore"},
		"Certificate sources to scan (keystore, acm)")

	// AWS
	man.addConfigString("aws.region", "",
		"AWS region of the Certificate Manager")
	man.addConfigString("aws.endpoint_url", "",
		"Custom AWS Certificate Manager endpoint URL")
	man.addConfigString("aws.access_key_id", "",
		"AWS access key ID (prefer env variable or instance role)")
	man.addConfigString("aws.secret_access_key", "",
		"AWS secret access key (prefer env variable for security)")
	man.addConfigString("aws.sts_assume_role_arn", "",
		"ARN of the role to assume to read the Certificate Manager")

	// Repository discovery
	man.addConfigStringSlice("crawler.repositories", nil,
		"Git repositories to scan for keystore archives")
	man.addConfigString("crawler.user", "",
		"Git user")
	man.addConfigString("crawler.token", "",
		"Git access token (prefer env variable for security)")
	man.addConfigString("crawler.scratch_dir", "downloads",
		"Local directory the repositories are cloned into, cleared on every run")
	man.addConfigStringSlice("crawler.ignore_suffixes", nil,
		"Archive path suffixes to skip")

	// Vault
	man.addConfigString("vault.cli_path", "keepassxc-cli",
		"Path of the keepassxc-cli binary")
	man.addConfigString("vault.database_name", "passwords.kdbx",
		"File name of the KeePass database, looked for in the cloned repositories")
	man.addConfigString("vault.working_path", "vault/passwords.kdbx",
		"Path the KeePass database is moved to before use")
	man.addConfigString("vault.password", "",
		"KeePass database master password (prefer env variable for security)")
	man.addConfigDuration("vault.timeout", 30*time.Second,
		"Timeout of a single vault query")

	// Keystore archives
	man.addConfigStringSlice("keystore.extensions", []string{"jks"},
		"File extensions of the keystore archives")
	man.addConfigInt("keystore.concurrency", 4,
		"Number of archives of a repository opened concurrently")

	// Notification
	man.addConfigStringSlice("notifier.enabled", []string{"basic"},
		"Notification channels (jira, confluence, email, basic)")
	man.addConfigInt("notifier.days", 31,
		"Notify the certificates expiring within this number of days")

	// Jira
	man.addConfigString("jira.url", "",
		"Jira base URL")
	man.addConfigString("jira.username", "",
		"Jira username")
	man.addConfigString("jira.password", "",
		"Jira password or API token (prefer env variable for security)")
	man.addConfigString("jira.token", "",
		"Jira personal access token, used instead of the username and password")
	man.addConfigString("jira.project_key", "",
		"Key of the Jira project the issues are created in")
	man.addConfigString("jira.label", "certificate-expiry",
		"Label of the issues created for expiring certificates")
	man.addConfigString("jira.issue_type", "Task",
		"Name or ID of the type of the created issues")
	man.addConfigInt("jira.priority", 1,
		"Order of the Jira channel, lower runs first")
	man.addConfigDuration("jira.timeout", 30*time.Second,
		"Timeout of a single Jira request")

	// Confluence
	man.addConfigString("confluence.url", "",
		"Confluence base URL")
	man.addConfigString("confluence.username", "",
		"Confluence username")
	man.addConfigString("confluence.password", "",
		"Confluence password (prefer env variable for security)")
	man.addConfigString("confluence.token", "",
		"Confluence personal access token, used instead of the username and password")
	man.addConfigString("confluence.content_id", "",
		"ID of the page holding the overview attachment")
	man.addConfigString("confluence.attachment_id", "",
		"ID of the overview attachment")
	man.addConfigInt("confluence.priority", 4,
		"Order of the Confluence channel, lower runs first")
	man.addConfigDuration("confluence.timeout", 30*time.Second,
		"Timeout of a single Confluence request")

	// E-mail
	man.addConfigString("email.from", "",
		"Sender address of the digest")
	man.addConfigStringSlice("email.to", nil,
		"Destination addresses of the digest")
	man.addConfigString("email.subject", "Alert certificate expiring soon.",
		"Subject of the digest")
	man.addConfigString("email.intro", "The following certificates are about to expire.",
		"Text heading the digest")
	man.addConfigInt("email.priority", 3,
		"Order of the e-mail channel, lower runs first")

	// SMTP
	man.addConfigString("smtp.server", "localhost",
		"SMTP server host")
	man.addConfigInt("smtp.port", 587,
		"SMTP server port")
	man.addConfigString("smtp.username", "",
		"SMTP username")
	man.addConfigString("smtp.password", "",
		"SMTP password (prefer env variable for security)")
	man.addConfigString("smtp.auth_method", "plain",
		"SMTP authentication method (plain, login, cram-md5, or empty for none)")
	man.addConfigBool("smtp.enable_tls", true,
		"Use TLS for the SMTP connection")
	man.addConfigBool("smtp.enable_start_tls", true,
		"Upgrade the SMTP connection with STARTTLS")
	man.addConfigBool("smtp.verify_ssl_certs", true,
		"Verify the certificate of the SMTP server")

	// Console
	man.addConfigInt("basic.priority", 2,
		"Order of the console channel, lower runs first")

	// Export
	man.addConfigString("export.dir", "",
		"Directory the overview files are written to")

	// Metrics
	man.addConfigString("metrics.pushgateway_url", "",
		"Prometheus Pushgateway URL, metrics are not pushed if empty")
	man.addConfigString("metrics.job", "certwatch",
		"Pushgateway job name")
	man.addConfigString("metrics.username", "",
		"Pushgateway username")
	man.addConfigString("metrics.password", "",
		"Pushgateway password (prefer env variable for security)")
	man.addConfigDuration("metrics.timeout", 10*time.Second,
		"Timeout of the metrics push")
}

// LoadConfig will load the config variables into a fully initialized
// CertwatchConfig struct
func (man Manager) LoadConfig() CertwatchConfig {
	man.loadConfigFile()

	return CertwatchConfig{
		Logging: LoggingConfig{
			Debug: man.getConfigBool("logging.debug"),
			JSON:  man.getConfigBool("logging.json"),
		},
		Extractor: ExtractorConfig{
			Enabled: man.getConfigStringSlice("extractor.enabled"),
		},
		AWS: AWSConfig{
			Region:           man.getConfigString("aws.region"),
			EndpointURL:      man.getConfigString("aws.endpoint_url"),
			AccessKeyID:      man.getConfigString("aws.access_key_id"),
			SecretAccessKey:  man.getConfigString("aws.secret_access_key"),
			StsAssumeRoleArn: man.getConfigString("aws.sts_assume_role_arn"),
		},
		Crawler: CrawlerConfig{
			Repositories:   man.getConfigStringSlice("crawler.repositories"),
			User:           man.getConfigString("crawler.user"),
			Token:          man.getConfigString("crawler.token"),
			ScratchDir:     man.getConfigString("crawler.scratch_dir"),
			IgnoreSuffixes: man.getConfigStringSlice("crawler.ignore_suffixes"),
		},
		Vault: VaultConfig{
			CLIPath:      man.getConfigString("vault.cli_path"),
			DatabaseName: man.getConfigString("vault.database_name"),
			WorkingPath:  man.getConfigString("vault.working_path"),
			Password:     man.getConfigString("vault.password"),
			Timeout:      man.getConfigDuration("vault.timeout"),
		},
		Keystore: KeystoreConfig{
			Extensions:  man.getConfigStringSlice("keystore.extensions"),
			Concurrency: man.getConfigInt("keystore.concurrency"),
		},
		Notifier: NotifierConfig{
			Enabled: man.getConfigStringSlice("notifier.enabled"),
			Days:    man.getConfigInt("notifier.days"),
		},
		Jira: JiraConfig{
			URL:        man.getConfigString("jira.url"),
			Username:   man.getConfigString("jira.username"),
			Password:   man.getConfigString("jira.password"),
			Token:      man.getConfigString("jira.token"),
			ProjectKey: man.getConfigString("jira.project_key"),
			Label:      man.getConfigString("jira.label"),
			IssueType:  man.getConfigString("jira.issue_type"),
			Priority:   man.getConfigInt("jira.priority"),
			Timeout:    man.getConfigDuration("jira.timeout"),
		},
		Confluence: ConfluenceConfig{
			URL:          man.getConfigString("confluence.url"),
			Username:     man.getConfigString("confluence.username"),
			Password:     man.getConfigString("confluence.password"),
			Token:        man.getConfigString("confluence.token"),
			ContentID:    man.getConfigString("confluence.content_id"),
			AttachmentID: man.getConfigString("confluence.attachment_id"),
			Priority:     man.getConfigInt("confluence.priority"),
			Timeout:      man.getConfigDuration("confluence.timeout"),
		},
		Email: EmailConfig{
			From:     man.getConfigString("email.from"),
			To:       man.getConfigStringSlice("email.to"),
			Subject:  man.getConfigString("email.subject"),
			Intro:    man.getConfigString("email.intro"),
			Priority: man.getConfigInt("email.priority"),
		},
		SMTP: SMTPConfig{
			Server:         man.getConfigString("smtp.server"),
			Port:           man.getConfigInt("smtp.port"),
			Username:       man.getConfigString("smtp.username"),
			Password:       man.getConfigString("smtp.password"),
			AuthMethod:     man.getConfigString("smtp.auth_method"),
			EnableTLS:      man.getConfigBool("smtp.enable_tls"),
			EnableStartTLS: man.getConfigBool("smtp.enable_start_tls"),
			VerifySSLCerts: man.getConfigBool("smtp.verify_ssl_certs"),
		},
		Basic: BasicConfig{
			Priority: man.getConfigInt("basic.priority"),
		},
		Export: ExportConfig{
			Dir: man.getConfigString("export.dir"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: man.getConfigString("metrics.pushgateway_url"),
			Job:            man.getConfigString("metrics.job"),
			Username:       man.getConfigString("metrics.username"),
			Password:       man.getConfigString("metrics.password"),
			Timeout:        man.getConfigDuration("metrics.timeout"),
		},
	}
}

// IsSet determines whether a given config key has been explicitly set by any
// of the configuration sources. If false, the default value is being used.
func (man Manager) IsSet(key string) bool {
	return man.viper.IsSet(key)
}

// envNameFromConfigKey converts a config key into the corresponding
// environment variable name
func envNameFromConfigKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.Replace(key, ".", "_", -1))
}

// flagNameFromConfigKey converts a config key into the corresponding flag name
func flagNameFromConfigKey(key string) string {
	return strings.Replace(key, ".", "_", -1)
}

// Manager manages the addition and retrieval of config values for certwatch
// configs. It's only public API method is LoadConfig, which will return the
// populated CertwatchConfig struct.
type Manager struct {
	viper    *viper.Viper
	command  *cobra.Command
	defaults map[string]interface{}
}

// NewManager initializes a Manager wrapping the provided cobra
// command. All config flags will be attached to that command (and inherited by
// the subcommands). Typically this should be called just once, with the root
// command.
func NewManager(command *cobra.Command) Manager {
	man := Manager{
		viper:    viper.New(),
		command:  command,
		defaults: map[string]interface{}{},
	}
	man.addConfigs()
	return man
}

// addDefault will check for duplication, then add a default value to the
// defaults map
func (man Manager) addDefault(key string, defVal interface{}) {
	if _, exists := man.defaults[key]; exists {
		panic("Trying to add duplicate config for key " + key)
	}

	man.defaults[key] = defVal
}

func getFlagUsage(key string, usage string) string {
	return fmt.Sprintf("Env: %s\n\t\t%s", envNameFromConfigKey(key), usage)
}

// getInterfaceVal is a helper function used by the getConfig* functions to
// retrieve the config value as interface{}, which will then be cast to the
// appropriate type by the getConfig* function.
func (man Manager) getInterfaceVal(key string) interface{} {
	interfaceVal := man.viper.Get(key)
	if interfaceVal == nil {
		var ok bool
		interfaceVal, ok = man.defaults[key]
		if !ok {
			panic("Tried to look up default value for nonexistent config option: " + key)
		}
	}
	return interfaceVal
}

func (man Manager) bind(key string) {
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))
}

// addConfigString adds a string config to the config options
func (man Manager) addConfigString(key, defVal, usage string) {
	man.command.PersistentFlags().String(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.bind(key)

	// Add default
	man.addDefault(key, defVal)
}

// getConfigString retrieves a string from the loaded config
func (man Manager) getConfigString(key string) string {
	interfaceVal := man.getInterfaceVal(key)
	stringVal, err := cast.ToStringE(interfaceVal)
	if err != nil {
		panic("Unable to cast to string for key " + key + ": " + err.Error())
	}

	return stringVal
}

// addConfigStringSlice adds a list of strings config to the config options.
// Environment variables hold comma separated values.
func (man Manager) addConfigStringSlice(key string, defVal []string, usage string) {
	man.command.PersistentFlags().StringSlice(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.bind(key)

	// Add default
	man.addDefault(key, defVal)
}

// getConfigStringSlice retrieves a list of strings from the loaded config
func (man Manager) getConfigStringSlice(key string) []string {
	interfaceVal := man.getInterfaceVal(key)
	if s, ok := interfaceVal.(string); ok {
		return splitList(s)
	}
	sliceVal, err := cast.ToStringSliceE(interfaceVal)
	if err != nil {
		panic("Unable to cast to string slice for key " + key + ": " + err.Error())
	}

	var out []string
	for _, v := range sliceVal {
		out = append(out, splitList(v)...)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// addConfigInt adds a int config to the config options
func (man Manager) addConfigInt(key string, defVal int, usage string) {
	man.command.PersistentFlags().Int(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.bind(key)

	// Add default
	man.addDefault(key, defVal)
}

// getConfigInt retrieves a int from the loaded config
func (man Manager) getConfigInt(key string) int {
	interfaceVal := man.getInterfaceVal(key)
	intVal, err := cast.ToIntE(interfaceVal)
	if err != nil {
		panic("Unable to cast to int for key " + key + ": " + err.Error())
	}

	return intVal
}

// addConfigBool adds a bool config to the config options
func (man Manager) addConfigBool(key string, defVal bool, usage string) {
	man.command.PersistentFlags().Bool(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.bind(key)

	// Add default
	man.addDefault(key, defVal)
}

// getConfigBool retrieves a bool from the loaded config
func (man Manager) getConfigBool(key string) bool {
	interfaceVal := man.getInterfaceVal(key)
	boolVal, err := cast.ToBoolE(interfaceVal)
	if err != nil {
		panic("Unable to cast to bool for key " + key + ": " + err.Error())
	}

	return boolVal
}

// addConfigDuration adds a duration config to the config options
func (man Manager) addConfigDuration(key string, defVal time.Duration, usage string) {
	man.command.PersistentFlags().Duration(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.bind(key)

	// Add default
	man.addDefault(key, defVal)
}

// getConfigDuration retrieves a duration from the loaded config
func (man Manager) getConfigDuration(key string) time.Duration {
	interfaceVal := man.getInterfaceVal(key)
	durationVal, err := cast.ToDurationE(interfaceVal)
	if err != nil {
		panic("Unable to cast to duration for key " + key + ": " + err.Error())
	}

	return durationVal
}

// loadConfigFile handles the loading of the config file.
func (man Manager) loadConfigFile() {
	man.viper.SetConfigType("yaml")

	configFile := man.command.PersistentFlags().Lookup("config").Value.String()

	if configFile == "" {
		// No config file set, only use configs from env
		// vars/flags/defaults
		return
	}

	man.viper.SetConfigFile(configFile)
	err := man.viper.ReadInConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config file:", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "Using config file:", man.viper.ConfigFileUsed())
}

// TestConfig returns a barebones configuration suitable for use in tests.
// Individual tests may want to override some of the values provided.
func TestConfig() CertwatchConfig {
	return CertwatchConfig{
		Extractor: ExtractorConfig{Enabled: []string{"keystore"}},
		Keystore:  KeystoreConfig{Extensions: []string{"jks"}, Concurrency: 1},
		Notifier:  NotifierConfig{Enabled: []string{"basic"}, Days: 31},
		Jira:      JiraConfig{Priority: 1},
		Email:     EmailConfig{Priority: 3},
		Basic:     BasicConfig{Priority: 2},
		Confluence: ConfluenceConfig{
			Priority: 4,
		},
		Logging: LoggingConfig{Debug: true},
	}
}
