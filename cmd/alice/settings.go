package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change persistent settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		cfg := a.settings.Config()
		apiKey := ""
		if cfg.LLM.APIKey != "" {
			apiKey = "********"
		}
		fmt.Printf("file:               %s\n", a.settings.Path())
		fmt.Printf("server-url:         %s\n", cfg.LLM.BaseURL)
		fmt.Printf("api-key:            %s\n", apiKey)
		fmt.Printf("model:              %s\n", cfg.LLM.Model)
		fmt.Printf("offline-model-path: %s\n", cfg.Offline.ModelPath)
		fmt.Printf("tts-url:            %s\n", cfg.TTS.URL)
		return nil
	},
}

var settingKeys = []string{"api-key", "model", "offline-model-path", "server-url", "tts-url"}

var settingsSetCmd = &cobra.Command{
	Use:       "set <key> [value]",
	Short:     "Change a setting (" + strings.Join(settingKeys, ", ") + "); an omitted value clears it",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: settingKeys,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		value := ""
		if len(args) == 2 {
			value = args[1]
		}
		ctx := cmd.Context()
		switch args[0] {
		case "server-url":
			err = a.settings.SetServerURL(value)
		case "api-key":
			err = a.settings.SetAPIKey(value)
		case "model":
			err = a.agent.SelectModel(ctx, value)
		case "offline-model-path":
			err = a.agent.UpdateOfflineModelPath(ctx, value)
		case "tts-url":
			err = a.settings.SetTTSURL(value)
		default:
			return fmt.Errorf("unknown setting %q (one of %s)", args[0], strings.Join(settingKeys, ", "))
		}
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s to %s\n", args[0], a.settings.Path())
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
}
