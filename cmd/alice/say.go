package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var sayOutput string

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Synthesize speech into a WAV file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := speak(cmd.Context(), a, strings.Join(args, " "), sayOutput); err != nil {
			return err
		}
		fmt.Println("Wrote", sayOutput)
		return nil
	},
}

func init() {
	sayCmd.Flags().StringVarP(&sayOutput, "output", "o", "speech.wav", "output WAV file")
}

func speak(ctx context.Context, a *app, text, out string) error {
	audio, err := a.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
