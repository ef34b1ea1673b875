package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settable keys and whether they hold a bool
var configKeys = map[string]bool{
	"server":          false,
	"timeout":         false,
	"json":            true,
	"url":             false,
	"method":          false,
	"content-type":    false,
	"accept":          false,
	"username":        false,
	"password":        false,
	"selection":       false,
	"allow-redirects": true,
	"verify-ssl":      true,
	"native-event":    true,
	"transport":       false,
	"nsqd":            false,
	"nats-url":        false,
	"topic":           false,
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage httpoutctl configuration",
	Long:  `Manage httpoutctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := map[string]any{
			"server":          viper.GetString("server"),
			"timeout":         viper.GetDuration("timeout").String(),
			"json":            viper.GetBool("json"),
			"url":             viper.GetString("url"),
			"method":          viper.GetString("method"),
			"selection":       viper.GetString("selection"),
			"allow-redirects": viper.GetBool("allow-redirects"),
			"verify-ssl":      viper.GetBool("verify-ssl"),
			"transport":       viper.GetString("transport"),
		}
		file := viper.ConfigFileUsed()
		if file == "" {
			file = "none (using defaults)"
		}
		rows := [][2]string{
			{"Server", viper.GetString("server")},
			{"Timeout", viper.GetDuration("timeout").String()},
			{"JSON Output", fmt.Sprint(viper.GetBool("json"))},
			{"URL", viper.GetString("url")},
			{"Method", viper.GetString("method")},
			{"Selection", viper.GetString("selection")},
			{"Allow redirects", fmt.Sprint(viper.GetBool("allow-redirects"))},
			{"Verify SSL", fmt.Sprint(viper.GetBool("verify-ssl"))},
			{"Transport", viper.GetString("transport")},
			{"Config file", file},
		}
		return printOutput(cmd.OutOrStdout(), settings, rows)
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  httpoutctl config set url http://localhost:8081/hook
  httpoutctl config set timeout 5s
  httpoutctl config set verify-ssl false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := setConfigValue(key, value); err != nil {
			return err
		}

		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
		return nil
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		viper.Set("server", "localhost:8082")
		viper.Set("timeout", "10s")
		viper.Set("json", false)
		viper.Set("method", "PUT")
		viper.Set("selection", "data")
		viper.Set("verify-ssl", true)
		viper.Set("transport", "nsq")

		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}

func setConfigValue(key, value string) error {
	isBool, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("invalid configuration key: %s", key)
	}
	switch {
	case isBool:
		switch value {
		case "true", "1", "yes", "on":
			viper.Set(key, true)
		case "false", "0", "no", "off":
			viper.Set(key, false)
		default:
			return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
	case key == "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeout: %w", err)
		}
		viper.Set(key, d.String())
	default:
		viper.Set(key, value)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".httpoutctl.yaml"), nil
}
