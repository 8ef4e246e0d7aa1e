package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/agent"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List and select models",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return printModels(cmd.Context(), a)
	},
}

var modelsSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: `Select the model used by default ("Offline: <file>" for the offline model)`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.agent.SelectModel(cmd.Context(), args[0]); err != nil {
			return errors.New(agent.UserMessage(err))
		}
		fmt.Println("Selected", args[0])
		return nil
	},
}

var modelsImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Copy a GGUF model into the models directory and use it as the offline model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.agent.UpdateOfflineModelPath(cmd.Context(), args[0]); err != nil {
			return errors.New(agent.UserMessage(err))
		}
		path := a.settings.Config().Offline.ModelPath
		fmt.Printf("Imported %s\nSelect it with: alice models select %q\n", path, agent.OfflineModelName(path))
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsSelectCmd, modelsImportCmd)
}

func printModels(ctx context.Context, a *app) error {
	models, err := a.agent.ListOnlineModels(ctx)
	selected := a.agent.Snapshot().SelectedModel
	for _, m := range models {
		marker := "  "
		if m == selected {
			marker = "* "
		}
		fmt.Println(marker + m)
	}
	return err
}
