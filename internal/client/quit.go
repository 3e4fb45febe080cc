package client

import (
	"context"
	"os"
	"time"

	"github.com/spacecodeur/space-language-trainer/internal/summary"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

// summaryWaitTimeout bounds how long the quit flow waits for the
// orchestrator's SummaryResponse before giving up and exiting without a
// file, so a dead orchestrator can't hang the quit.
const summaryWaitTimeout = 10 * time.Second

// runQuitFlow handles 'q': prompt for confirmation, send
// SummaryRequest, wait for SessionSummary, and persist
// it to ~/space-lt-sessions/YYYY-MM-DD_HH-MM.md. The returned bool
// reports whether the session should actually end; declining leaves the
// main loop running.
func (c *Core) runQuitFlow(ctx context.Context) (bool, error) {
	c.printLine("Quit and save a session summary? [y/n]")
	choice := c.choices.ReadChoice()
	if choice != 'y' && choice != 'Y' {
		c.quitRequested.Store(false)
		return false, nil
	}

	if err := c.w.writeClient(wire.ClientSummaryRequest()); err != nil {
		return false, err
	}

	select {
	case msg := <-c.summaryChan:
		return true, c.persistSummary(msg.text)
	case <-time.After(summaryWaitTimeout):
		c.logger.Warn("timed out waiting for session summary")
		return true, nil
	case <-ctx.Done():
		return true, nil
	}
}

func (c *Core) persistSummary(markdown string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		c.logger.Warn("could not resolve home directory, summary not saved", "err", err)
		return nil
	}
	path := summary.Path(home, time.Now())
	if err := summary.Write(path, markdown); err != nil {
		c.logger.Warn("failed to write session summary", "err", err)
		return nil
	}
	c.printLine("Session summary written to " + path)
	return nil
}
