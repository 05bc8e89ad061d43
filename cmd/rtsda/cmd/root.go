package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RTSDA/RTSDA-Android-sub001/internal/config"
	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
)

var (
	cfgFile string
	devLogs bool

	// cfg is the effective configuration once PersistentPreRunE has run.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rtsda",
	Short: "Church events and media backend",
	Long: `rtsda keeps the church calendar current and answers the app's
event and media queries.

Recurring events are rolled forward on a schedule, ICS feeds can be imported
into the event store, and the latest sermon and livestream are looked up on
YouTube behind a bounded-staleness cache.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "config file (created with defaults if missing)")
	rootCmd.PersistentFlags().String("listen", "", "HTTP listen address")
	rootCmd.PersistentFlags().String("timezone", "", "IANA zone recurrence is computed in")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev-logs", false, "human readable console logs")

	viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("timezone", rootCmd.PersistentFlags().Lookup("timezone"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("db"))

	// Environment variables: RTSDA_LISTEN, RTSDA_YOUTUBE_API_KEY, ...
	viper.SetEnvPrefix("RTSDA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindEnv("youtube.api_key")
	viper.BindEnv("youtube.channel_id")
	viper.BindEnv("nats.url")
}

// loadConfig reads the YAML file and layers flag and environment overrides
// on top of it.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	applyOverrides(c, viper.GetViper())

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := appLog.Init(appLog.ParseLevel(c.LogLevel), devLogs); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	appLog.Info("effective config",
		"config", cfgFile,
		"listen", c.Listen,
		"timezone", c.Timezone,
		"sweep_cron", c.SweepCron,
		"database", c.Database,
		"ics_count", len(c.ICS),
		"youtube_channel", c.YouTube.ChannelID,
		"nats", c.NATS.URL != "",
		"metrics", c.Metrics,
	)
	cfg = c
	return nil
}

// applyOverrides copies every key set by a flag or environment variable
// into c.
func applyOverrides(c *config.Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := v.GetString(key); s != "" {
				*dst = s
			}
		}
	}
	str("listen", &c.Listen)
	str("timezone", &c.Timezone)
	str("log_level", &c.LogLevel)
	str("database", &c.Database)
	str("youtube.api_key", &c.YouTube.APIKey)
	str("youtube.channel_id", &c.YouTube.ChannelID)
	str("nats.url", &c.NATS.URL)
}
