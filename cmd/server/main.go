// Command server accepts one TCP client and one Unix-socket
// orchestrator at a time and runs the session router between them until
// either peer disconnects, then waits for the next pair.
package main

import (
	"log/slog"
	"net"
	"os"

	"github.com/spacecodeur/space-language-trainer/internal/config"
	"github.com/spacecodeur/space-language-trainer/internal/engines"
	"github.com/spacecodeur/space-language-trainer/internal/logging"
	"github.com/spacecodeur/space-language-trainer/internal/metrics"
	"github.com/spacecodeur/space-language-trainer/internal/netconn"
	"github.com/spacecodeur/space-language-trainer/internal/session"
)

const metricsAddr = ":9600"

func main() {
	cfg, err := config.ParseServerConfig(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Debug)

	go func() {
		if err := metrics.Serve(metricsAddr); err != nil {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()

	listener, err := netconn.Listen(cfg.Port, cfg.SocketPath)
	if err != nil {
		logger.Error("failed to bind listeners", "err", err)
		os.Exit(1)
	}
	defer listener.Close()

	transcriber := engines.NewCliTranscriber(resolveSttBinary(), cfg.Model)
	tts := engines.NewCliTtsEngine(resolveTtsBinary(), cfg.TtsModel)

	logger.Info("server listening", "port", cfg.Port, "socket_path", cfg.SocketPath, "model", cfg.Model, "tts_model", cfg.TtsModel)

	for {
		if err := acceptAndRunSession(listener, transcriber, tts, logger); err != nil {
			logger.Error("session failed", "err", err)
		}
	}
}

// acceptAndRunSession accepts one client and one orchestrator
// connection and blocks for the lifetime of that session. It loops in
// main so the server can serve a new session once the previous one
// ends; only one session runs at a time.
func acceptAndRunSession(listener *netconn.Listener, transcriber session.Transcriber, tts session.TtsEngine, logger *slog.Logger) error {
	tcpConn, err := listener.AcceptClient()
	if err != nil {
		return err
	}

	unixConn, _, err := listener.AcceptOrchestrator()
	if err != nil {
		tcpConn.Close()
		return err
	}

	logger.Info("session starting")
	err = session.RunSession(transcriber, tts, tcpConn, unixConn, logger)
	logger.Info("session ended", "err", err)

	closeQuietly(tcpConn)
	closeQuietly(unixConn)
	return err
}

func closeQuietly(conn net.Conn) {
	_ = conn.Close()
}

func resolveSttBinary() string {
	if v := os.Getenv("SPACE_LT_STT_BINARY"); v != "" {
		return v
	}
	return "whisper-cli"
}

func resolveTtsBinary() string {
	if v := os.Getenv("SPACE_LT_TTS_BINARY"); v != "" {
		return v
	}
	return "piper"
}
