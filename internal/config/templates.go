package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

const templateHeader = `# pbxmon configuration.
# Durations accept Go forms: "30s", "5m", "1h30m".
# Secrets belong here, so keep the file mode at 0600.

`

// Template renders the default configuration plus one example target as
// a starting pbxmon.toml.
func Template() (string, error) {
	def := DefaultConfig()
	doc := fileConfig{
		Collector: fileCollector{
			CacheDir:          def.Collector.CacheDir,
			PollInterval:      def.Collector.PollInterval.String(),
			CacheTTL:          def.Collector.CacheTTL.String(),
			BackoffInitial:    def.Collector.BackoffInitial.String(),
			BackoffMax:        def.Collector.BackoffMax.String(),
			BackoffMultiplier: def.Collector.BackoffMultiplier,
		},
		API: fileAPI{
			Enabled:     def.API.Enabled,
			ListenAddr:  def.API.ListenAddr,
			CORSOrigins: def.API.CORSOrigins,
			AuthToken:   "",
		},
		Targets: []fileTarget{{
			Name:            "pbx01",
			Addr:            "10.20.0.10:5038",
			Username:        "monitor",
			Secret:          "change-me",
			ConnectTimeout:  "5s",
			LoginTimeout:    "5s",
			ActionTimeout:   "10s",
			ExpectEndpoints: true,
			QueueWaitWarn:   5,
		}},
	}
	body, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("config: render template: %w", err)
	}
	return templateHeader + string(body), nil
}

// WriteTemplate writes the template to path, refusing to overwrite an
// existing file unless told to.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
