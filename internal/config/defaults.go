package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			DefaultProvider:       "openai",
			MaxConcurrentMessages: 5,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				Type:         "openai",
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				Type:         "ollama",
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Orchestration: OrchestrationConfig{
			MaxConsultedSpecialists:   4,
			SelectorTranscriptChars:   12000,
			SelectorTranscriptItems:   12,
			SpecialistTranscriptChars: 16000,
			SpecialistTranscriptItems: 16,
			MaxSpecialistOutputChars:  6000,
			SelectorTemperature:       0.2,
			SelectorTimeoutSeconds:    30,
			SpecialistTimeoutSeconds:  90,
			AgentsDir:                 "~/.huddle/agents",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
		},
		Memory: MemoryConfig{
			Enabled:              true,
			DBPath:               "~/.huddle/huddle.db",
			MaxHistoryPerSession: 200,
		},
		Extraction: ExtractionConfig{
			Enabled:          true,
			MaxCharsPerFile:  60000,
			MaxTotalChars:    120000,
			CSVPreviewLines:  200,
			TimeoutSeconds:   20,
			MaxDownloadBytes: 10 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 20,
			Burst:          5,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
