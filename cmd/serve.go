package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibeagents/vibe/internal/agent"
	"github.com/vibeagents/vibe/internal/gateway"
	"github.com/vibeagents/vibe/internal/pipeline"
	"github.com/vibeagents/vibe/internal/router"
	"github.com/vibeagents/vibe/internal/sandbox"
	"github.com/vibeagents/vibe/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent server",
	Long: `Start the websocket and REST server that hosts the agent team.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serveRun() error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	st, err := getStore()
	if err != nil {
		return err
	}

	// The role table is closed: every role the pipeline dispatches must
	// resolve before the server accepts work.
	for _, role := range []agent.Role{
		agent.RoleRouter, agent.RolePlanner, agent.RoleCoder,
		agent.RoleReviewer, agent.RoleTester, agent.RoleDebugger,
	} {
		if _, _, err := agent.Lookup(role); err != nil {
			return fmt.Errorf("validate agent roles: %w", err)
		}
	}

	invoker := agent.NewClient(viper.GetString("anthropic.api_key"), viper.GetString("anthropic.model"))
	if !invoker.Configured() {
		log.Warn("anthropic.api_key is not set; agent requests will fail until it is configured")
	}
	runner := sandbox.NewExecRunner(viper.GetDuration("sandbox.timeout"))

	pipelineCfg := pipeline.Config{
		MaxDebugAttempts: viper.GetInt("pipeline.max_debug_attempts"),
		DialogueRounds:   viper.GetInt("dialogue.max_rounds"),
		ProjectsDir:      viper.GetString("projects_dir"),
	}
	routerCfg := router.Config{
		ConfidenceThreshold: viper.GetFloat64("router.confidence_threshold"),
		FallbackReply:       viper.GetString("router.fallback_reply"),
	}

	// Each session gets its own engine and router wired to a session-scoped
	// emit closure, so events cannot cross sessions.
	factory := func(emit func(event string, data any)) (session.ChatHandler, session.Builder) {
		engine := pipeline.NewEngine(invoker, runner, st, pipelineCfg, pipeline.EmitFunc(emit), log)
		rt := router.New(invoker, engine, runner, routerCfg, router.EmitFunc(emit), log)
		return rt, engine
	}

	sessions := session.NewManager(factory, st, session.Config{
		MaxPerConn:  viper.GetInt("session.max_per_connection"),
		EventBuffer: viper.GetInt("session.event_buffer"),
		Grace:       viper.GetDuration("session.grace"),
	}, log)

	srv := gateway.NewServer(st, sessions, gateway.Config{
		MaxMessageLen:     viper.GetInt("limits.max_message_len"),
		MessagesPerMinute: viper.GetInt("limits.messages_per_minute"),
	}, log, buildVersion)

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	ui.Info("vibe %s listening on http://localhost%s (websocket at /ws)", buildVersion, addr)
	return http.ListenAndServe(addr, srv.Router())
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
