// Package config builds the per-process configuration structs with a
// flag-first precedence: command-line flag, then environment variable,
// then hardcoded default.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ServerConfig configures the server process: `--model NAME
// --tts-model PATH [--port 9500] [--socket-path ...] [--debug]`.
type ServerConfig struct {
	Model      string
	TtsModel   string
	Port       int
	SocketPath string
	Debug      bool
}

// ParseServerConfig parses args (typically os.Args[1:]) into a
// ServerConfig. --model and --tts-model are required.
func ParseServerConfig(args []string) (ServerConfig, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	model := fs.String("model", "", "STT model name (required)")
	ttsModel := fs.String("tts-model", "", "TTS model path (required)")
	port := fs.Int("port", 9500, "TCP port to listen on")
	socketPath := fs.String("socket-path", envStr("SPACE_LT_SOCKET_PATH", "/tmp/space_lt_server.sock"), "Unix socket path for the orchestrator")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	if *model == "" {
		return ServerConfig{}, fmt.Errorf("--model is required")
	}
	if *ttsModel == "" {
		return ServerConfig{}, fmt.Errorf("--tts-model is required")
	}

	return ServerConfig{
		Model:      *model,
		TtsModel:   *ttsModel,
		Port:       *port,
		SocketPath: *socketPath,
		Debug:      *debug,
	}, nil
}

// OrchestratorConfig configures the orchestrator process:
// `--agent PATH [--socket PATH] [--session-dir PATH] [--tools LIST]
// [--mock] [--debug]`.
type OrchestratorConfig struct {
	AgentPath  string
	SocketPath string
	SessionDir string
	Tools      []string
	Mock       bool
	Debug      bool
}

// ParseOrchestratorConfig parses args into an OrchestratorConfig. --agent
// is required and must reference an existing file.
func ParseOrchestratorConfig(args []string) (OrchestratorConfig, error) {
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	agent := fs.String("agent", "", "path to the system-prompt/agent file (required)")
	socketPath := fs.String("socket", envStr("SPACE_LT_SOCKET_PATH", "/tmp/space_lt_server.sock"), "Unix socket path to connect to")
	sessionDir := fs.String("session-dir", envStr("SPACE_LT_SESSION_DIR", defaultSessionDir()), "working directory the LLM CLI subprocess runs in (its --continue session resolution is cwd-dependent)")
	tools := fs.String("tools", envStr("SPACE_LT_TOOLS", "web_search"), "comma-separated tool allowlist passed to the LLM CLI subprocess; empty disables all tools")
	mock := fs.Bool("mock", false, "use the mock LLM backend instead of spawning a CLI subprocess")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return OrchestratorConfig{}, err
	}
	if *agent == "" {
		return OrchestratorConfig{}, fmt.Errorf("--agent is required")
	}
	if _, err := os.Stat(*agent); err != nil {
		return OrchestratorConfig{}, fmt.Errorf("--agent file %q: %w", *agent, err)
	}

	return OrchestratorConfig{
		AgentPath:  *agent,
		SocketPath: *socketPath,
		SessionDir: *sessionDir,
		Tools:      splitTools(*tools),
		Mock:       *mock,
		Debug:      *debug,
	}, nil
}

// splitTools parses a comma-separated tool allowlist, dropping empty
// entries so "--tools ''" disables all tools.
func splitTools(s string) []string {
	var tools []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, t)
		}
	}
	return tools
}

// ClientConfig configures the client process: `[--server HOST:PORT]
// [--debug]`.
type ClientConfig struct {
	Server string
	Debug  bool
}

// ParseClientConfig parses args into a ClientConfig.
func ParseClientConfig(args []string) (ClientConfig, error) {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	server := fs.String("server", envStr("SPACE_LT_SERVER", "localhost:9500"), "server address, host:port")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}

	return ClientConfig{Server: *server, Debug: *debug}, nil
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "space-lt-sessions"
	}
	return filepath.Join(home, "space-lt-sessions")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

