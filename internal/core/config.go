package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BaseDirName  = ".config/botminder"
	LockFileName = "session.pid"
	SocketName   = "session.sock"
	EnvFileName  = "bot.env"
	ProbeDefName = "probes.hcl"
	DBFileName   = "botminder.db"
)

var Config *viper.Viper

var globalFlagsToConfigKey = map[string]string{
	"config-path": "config_path",
	"verbose":     "verbose",
}

func GetConfigPath() string {
	return Config.GetString("config_path")
}

func GetSocketPath() string {
	return filepath.Join(GetConfigPath(), SocketName)
}

func GetLockFilePath() string {
	return filepath.Join(GetConfigPath(), LockFileName)
}

func GetDBPath() string {
	return filepath.Join(GetConfigPath(), DBFileName)
}

// GetEnvFilePath returns the secrets file path. Relative paths are resolved
// against the config directory.
func GetEnvFilePath() string {
	path := Config.GetString("env_file")
	if path == "" {
		path = EnvFileName
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(GetConfigPath(), path)
	}
	return path
}

func GetProbeDefPath() string {
	return filepath.Join(GetConfigPath(), ProbeDefName)
}

// GetLogDir returns the directory that holds the bot and health-check logs.
func GetLogDir() string {
	dir := Config.GetString("log.dir")
	if dir == "" {
		dir = "logs"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(GetConfigPath(), dir)
	}
	return dir
}

func GetBotLogPath() string {
	return filepath.Join(GetLogDir(), "bot.log")
}

func GetProbeLogPath() string {
	return filepath.Join(GetLogDir(), "healthcheck.log")
}

func GetLogMaxSize() int64 {
	return Config.GetInt64("log.max_size")
}

func GetBotCommand() []string {
	return Config.GetStringSlice("bot.command")
}

func GetBotWorkdir() string {
	return Config.GetString("bot.workdir")
}

func GetBotUsePty() bool {
	return Config.GetBool("bot.use_pty")
}

func GetNotifyEnabled() bool {
	return Config.GetBool("notify.enabled")
}

func GetProbeInterval() int {
	return Config.GetInt("probe.interval")
}

func InitializeConfig(cmd *cobra.Command) error {
	Config = viper.New()

	configPath, err := cmd.Root().PersistentFlags().GetString("config-path")
	if err != nil {
		return fmt.Errorf("unable to determine config path: %w", err)
	}
	Config.AddConfigPath(configPath)

	Config.SetConfigName("config")
	Config.SetConfigType("toml")

	Config.SetDefault("verbose", 0)
	Config.SetDefault("env_file", EnvFileName)
	Config.SetDefault("log.dir", "logs")
	Config.SetDefault("log.max_size", 2_000_000)
	Config.SetDefault("bot.command", []string{"python3", "-u", "main.py"})
	Config.SetDefault("bot.workdir", "")
	Config.SetDefault("bot.use_pty", false)
	Config.SetDefault("notify.enabled", true)
	Config.SetDefault("probe.interval", 86400)

	Config.SetEnvPrefix("botminder")

	if err := Config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found - create config path and write config with defaults
			if err := os.MkdirAll(configPath, 0o755); err != nil {
				return fmt.Errorf("unable to create config directory: %w", err)
			}
			Config.SafeWriteConfig()
		} else {
			return fmt.Errorf("unable to read config: %w", err)
		}
	}

	// In order to get environment variables mapped into config sections, we need to replace . with _
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Config.AutomaticEnv()

	Config.Set("config_path", configPath)

	// Bind the current command's flags to viper
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			configKey, ok := globalFlagsToConfigKey[f.Name]
			if !ok {
				return
			}

			// Apply the viper config value to the flag when the flag is not set and viper has a value
			if !f.Changed && Config.IsSet(configKey) {
				cmd.Flags().Set(f.Name, fmt.Sprintf("%v", Config.Get(configKey)))
			} else {
				Config.Set(configKey, fmt.Sprintf("%v", f.Value))
			}
		})
	}

	return nil
}
