package config

// Defaults returns a configuration with sensible defaults. Tokens are left
// as env placeholders so a generated config works as soon as the variables
// are exported.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.slackbridge",
		},
		Slack: SlackConfig{
			BotToken: "${SLACK_BOT_TOKEN}",
			AppToken: "${SLACK_APP_TOKEN}",
		},
		Attachments: AttachmentsConfig{
			Dir:                  "~/.slackbridge/attachments",
			MaxSizeBytes:         20 * 1024 * 1024,
			TTLDays:              7,
			SweepIntervalMinutes: 60,
		},
		Registry: RegistryConfig{
			Dir: "~/.slackbridge/registry",
		},
		Outbound: OutboundConfig{
			RatePerMinute: 50,
			Burst:         5,
		},
		CatchUp: CatchUpConfig{
			WindowHours: 12,
		},
		Store: StoreConfig{
			DBPath: "~/.slackbridge/slackbridge.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9099",
		},
	}
}
