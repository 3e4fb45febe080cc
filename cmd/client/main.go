// Command client opens the local audio device, connects to the server,
// and runs the interaction core until the user quits or the server
// disconnects.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spacecodeur/space-language-trainer/internal/audio"
	"github.com/spacecodeur/space-language-trainer/internal/client"
	"github.com/spacecodeur/space-language-trainer/internal/config"
	"github.com/spacecodeur/space-language-trainer/internal/logging"
	"github.com/spacecodeur/space-language-trainer/internal/netconn"
)

const devicePlaybackBuffer = 8

func main() {
	cfg, err := config.ParseClientConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Debug)

	conn, reader, err := netconn.ConnectWithRetry(cfg.Server)
	if err != nil {
		logger.Error("failed to connect to server", "err", err, "server", cfg.Server)
		os.Exit(1)
	}
	defer conn.Close()

	deviceCfg := audio.DefaultDeviceConfig()
	playback := audio.NewPlaybackEngine(deviceCfg.SampleRate, devicePlaybackBuffer)

	device, err := audio.OpenDevice(deviceCfg, playback)
	if err != nil {
		logger.Error("failed to open audio device", "err", err)
		os.Exit(1)
	}
	defer device.Close()

	if err := device.Start(); err != nil {
		logger.Error("failed to start audio device", "err", err)
		os.Exit(1)
	}

	core := client.NewCore(client.Config{
		Conn:       conn,
		Reader:     reader,
		DeviceRate: deviceCfg.SampleRate,
		Captured:   device.Captured(),
		Playback:   playback,
		Mode:       client.ModeManual,
		VAD:        audio.NewVAD(audio.DefaultVADConfig()),
		Hotkey:     client.NewAtomicHotkeyListener(),
		Keyboard:   client.NewStdinKeyboardPoller(os.Stdin),
		Choices:    client.NewStdinChoiceReader(),
		Out:        os.Stdout,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go awaitShutdown(cancel)

	logger.Info("client connected", "server", cfg.Server)
	if err := core.Run(ctx); err != nil {
		logger.Error("client exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("client exited cleanly")
}

func awaitShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}
