package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/output"
)

var chatServerURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat with the agent server",
	Long: `Connect to a running vibe server and chat with the agent team.

Slash commands inside the chat:
  /new              start another session
  /sessions         list this connection's sessions
  /attach <id>      switch to a session and replay its events
  /close            close the current session
  /build <request>  force a full pipeline build
  /resume <name>    load a saved project into the session
  /clear            reset the session workspace
  /quit             exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun()
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatServerURL, "server", "", "Server URL (default ws://localhost:<port>/ws)")
}

// wsMessage mirrors the gateway envelope in both directions.
type wsMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Seq       int             `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type chatClient struct {
	conn    *websocket.Conn
	ui      *output.UI
	session string
}

func chatRun() error {
	url := chatServerURL
	if url == "" {
		url = fmt.Sprintf("ws://localhost:%d/ws", viper.GetInt("port"))
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w (is 'vibe serve' running?)", url, err)
	}
	defer conn.Close()

	c := &chatClient{conn: conn, ui: ui}
	ui.Info("Connected to %s", url)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop()
	}()

	if err := c.send(wsMessage{Type: "new_session"}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for {
		fmt.Fprint(ui.Out, output.Dim("> "))
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := c.handleInput(line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
		select {
		case <-done:
			return fmt.Errorf("connection closed by server")
		default:
		}
	}
}

func (c *chatClient) send(msg wsMessage) error {
	return c.conn.WriteJSON(msg)
}

// handleInput processes one line: a slash command or a chat message.
func (c *chatClient) handleInput(line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.send(wsMessage{Type: "chat", SessionID: c.session, Message: line})
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		return false, c.send(wsMessage{Type: "new_session"})
	case "/sessions":
		return false, c.send(wsMessage{Type: "list_sessions"})
	case "/attach":
		if rest == "" {
			c.ui.Warning("usage: /attach <session-id>")
			return false, nil
		}
		c.session = rest
		return false, c.send(wsMessage{Type: "attach_session", SessionID: rest})
	case "/close":
		id := rest
		if id == "" {
			id = c.session
		}
		return false, c.send(wsMessage{Type: "close_session", SessionID: id})
	case "/build":
		if rest == "" {
			c.ui.Warning("usage: /build <request>")
			return false, nil
		}
		return false, c.send(wsMessage{Type: "build", SessionID: c.session, Message: rest})
	case "/resume":
		if rest == "" {
			c.ui.Warning("usage: /resume <project-name>")
			return false, nil
		}
		return false, c.send(wsMessage{Type: "resume", SessionID: c.session, Message: rest})
	case "/clear":
		return false, c.send(wsMessage{Type: "clear", SessionID: c.session, Message: "clear"})
	default:
		c.ui.Warning("unknown command %s", cmd)
		return false, nil
	}
}

func (c *chatClient) readLoop() {
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.render(msg)
	}
}

// render prints one server event in a terminal-friendly form.
func (c *chatClient) render(msg wsMessage) {
	switch msg.Type {
	case "session_created":
		c.session = msg.SessionID
		c.ui.Success("session %s", msg.SessionID)

	case "session_closed":
		c.ui.Info("closed session %s", msg.SessionID)
		if msg.SessionID == c.session {
			c.session = ""
		}

	case "session_attached":
		c.ui.Info("attached to session %s, replaying...", msg.SessionID)

	case "session_list":
		var infos []struct {
			ID      string `json:"id"`
			Busy    bool   `json:"busy"`
			Project string `json:"project"`
		}
		if json.Unmarshal(msg.Data, &infos) != nil {
			return
		}
		for _, info := range infos {
			marker := " "
			if info.ID == c.session {
				marker = "*"
			}
			state := "idle"
			if info.Busy {
				state = "busy"
			}
			c.ui.Info("%s %s  %s  %s", marker, info.ID, state, info.Project)
		}

	case "phase":
		var data struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Info("phase: %s", output.PhaseColor(data.Name))
		}

	case "agent_message":
		var data struct {
			Agent   string `json:"agent"`
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if json.Unmarshal(msg.Data, &data) == nil && data.Content != "" {
			c.ui.VerboseLog("[%s] %s", output.AgentColor(data.Agent), strings.TrimSpace(data.Content))
		}

	case "plan_ready":
		var data struct {
			ProjectName string `json:"project_name"`
			Summary     string `json:"summary"`
			Tasks       []struct {
				ID    int    `json:"id"`
				Title string `json:"title"`
			} `json:"tasks"`
		}
		if json.Unmarshal(msg.Data, &data) != nil {
			return
		}
		c.ui.Success("plan for %s: %s", output.Cyan(data.ProjectName), data.Summary)
		for _, task := range data.Tasks {
			c.ui.Info("  %d. %s", task.ID, task.Title)
		}

	case "task_start":
		var data struct {
			TaskNumber int    `json:"task_number"`
			Total      int    `json:"total"`
			Title      string `json:"title"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Info("task %d/%d: %s", data.TaskNumber, data.Total, data.Title)
		}

	case "file_created", "file_updated":
		var data struct {
			Path string `json:"path"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Success("%s %s", msg.Type, output.Green(data.Path))
		}

	case "review_complete":
		var data struct {
			Status  string `json:"status"`
			Summary string `json:"summary"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Info("review: %s  %s", output.VerdictColor(data.Status), data.Summary)
		}

	case "dialogue_exchange":
		var data struct {
			From    string `json:"from"`
			Content string `json:"content"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Info("[%s] %s", output.AgentColor(data.From), data.Content)
		}

	case "debug_attempt":
		var data struct {
			Attempt int `json:"attempt"`
			Max     int `json:"max"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Warning("debug attempt %d/%d", data.Attempt, data.Max)
		}

	case "test_result":
		var data struct {
			Success bool   `json:"success"`
			Output  string `json:"output"`
		}
		if json.Unmarshal(msg.Data, &data) != nil {
			return
		}
		if data.Success {
			c.ui.Success("tests passed")
		} else {
			c.ui.Error("tests failed: %s", data.Output)
		}

	case "build_complete":
		var data struct {
			Success bool     `json:"success"`
			Project string   `json:"project"`
			Files   []string `json:"files"`
			Error   string   `json:"error"`
		}
		if json.Unmarshal(msg.Data, &data) != nil {
			return
		}
		if data.Success {
			c.ui.Success("build complete: %s (%d files)", output.Cyan(data.Project), len(data.Files))
		} else {
			c.ui.Error("build failed: %s", data.Error)
		}

	case "chat_response":
		var resp models.ChatResponse
		if json.Unmarshal(msg.Data, &resp) == nil && resp.Response != "" {
			fmt.Fprintln(c.ui.Out, resp.Response)
		}

	case "project_resumed":
		var data struct {
			Project string   `json:"project"`
			Files   []string `json:"files"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Success("resumed %s (%d files)", output.Cyan(data.Project), len(data.Files))
		}

	case "workspace_cleared":
		c.ui.Info("workspace cleared")

	case "error":
		var data struct {
			Description string `json:"description"`
		}
		if json.Unmarshal(msg.Data, &data) == nil {
			c.ui.Error("%s", data.Description)
		}
	}
}
