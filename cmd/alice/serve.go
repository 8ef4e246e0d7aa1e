package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/alice-go/internal/logger"
	"github.com/comigor/alice-go/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves the assistant over HTTP on server.host:server.port.

Endpoints:
  POST   /chat                 send a message, returns the reply
  GET    /models               list models
  POST   /models/select        select a model (body: model name)
  GET    /sessions             list conversations
  POST   /sessions             start a new conversation
  POST   /sessions/{id}/open   reopen a conversation
  DELETE /sessions/{id}        delete a conversation
  GET    /state                current conversation state
  POST   /tts                  synthesize speech (body: text)`,
	Annotations: map[string]string{"logs": "console"},
	RunE:        runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(cmd.Context())
	srv := server.New(a.agent, a, a.settings.Config().Server)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.L.Info("shutting down")
		a.agent.Cancel()
		return nil
	})
	return g.Wait()
}
