// Command orchestrator dials the server's Unix socket, sends the
// SessionStart handshake, and drives the voice loop until the server
// disconnects.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/spacecodeur/space-language-trainer/internal/config"
	"github.com/spacecodeur/space-language-trainer/internal/llmsubprocess"
	"github.com/spacecodeur/space-language-trainer/internal/logging"
	"github.com/spacecodeur/space-language-trainer/internal/voiceloop"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// sessionStartPayload is the utf8 JSON body of the SessionStart
// handshake.
type sessionStartPayload struct {
	SessionID string `json:"session_id"`
	AgentPath string `json:"agent_path"`
}

func main() {
	cfg, err := config.ParseOrchestratorConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Debug)

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		logger.Error("failed to dial server socket", "err", err, "socket_path", cfg.SocketPath)
		os.Exit(1)
	}
	defer conn.Close()

	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	if err := handshake(r, w, cfg.AgentPath); err != nil {
		logger.Error("handshake with server failed", "err", err)
		os.Exit(1)
	}

	backend := buildBackend(cfg, w, logger)
	loop := voiceloop.NewLoop(backend, cfg.AgentPath, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go awaitShutdown(cancel, logger)

	logger.Info("orchestrator running", "agent", cfg.AgentPath, "mock", cfg.Mock, "session_dir", cfg.SessionDir)
	if err := loop.Run(ctx, r, w); err != nil {
		logger.Error("voice loop exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("voice loop ended cleanly")
}

// handshake writes the SessionStart frame and waits for the server's
// Ready reply. It shares r/w with the voice loop that
// follows, since wrapping a fresh bufio.Reader around the connection
// afterward would risk losing bytes this call already buffered ahead.
func handshake(r *bufio.Reader, w *bufio.Writer, agentPath string) error {
	payload := sessionStartPayload{SessionID: uuid.NewString(), AgentPath: agentPath}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding SessionStart payload: %w", err)
	}

	if err := wire.WriteOrchestratorMsg(w, wire.SessionStart(string(body))); err != nil {
		return fmt.Errorf("sending SessionStart: %w", err)
	}

	msg, err := wire.ReadServerMsg(r)
	if err != nil {
		return fmt.Errorf("reading Ready handshake: %w", err)
	}
	if msg.Tag != wire.TagReady {
		return fmt.Errorf("expected Ready handshake, got tag 0x%02x", msg.Tag)
	}
	return nil
}

func buildBackend(cfg config.OrchestratorConfig, w *bufio.Writer, logger *slog.Logger) llmsubprocess.Backend {
	if cfg.Mock {
		return llmsubprocess.NewMockBackend(
			"Sure, I can help with that. Could you tell me more?",
			"That makes sense, thanks for clarifying.",
		)
	}
	backend := llmsubprocess.NewCliBackend(resolveLlmBinary(), cfg.Tools, cfg.SessionDir)
	backend.Logger = logger
	backend.Status = &socketStatusNotifier{w: w, logger: logger}
	return backend
}

// socketStatusNotifier forwards the LLM backend's in-flight status cues
// ("Searching the web…") to the server as StatusNotification frames. The
// backend only notifies while the voice loop is blocked inside Query, so
// the frame writes never interleave with the loop's own writes; the
// mutex guards against concurrent stderr-scanner lines only.
type socketStatusNotifier struct {
	mu     sync.Mutex
	w      *bufio.Writer
	logger *slog.Logger
}

func (n *socketStatusNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := wire.WriteOrchestratorMsg(n.w, wire.OrcStatusNotification(text)); err != nil {
		n.logger.Warn("failed to forward status notification", "err", err)
	}
}

func resolveLlmBinary() string {
	if v := os.Getenv("SPACE_LT_LLM_BINARY"); v != "" {
		return v
	}
	return "claude"
}

func awaitShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig)
	cancel()
}
