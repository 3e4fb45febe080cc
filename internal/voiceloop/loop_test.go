package voiceloop

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spacecodeur/space-language-trainer/internal/llmsubprocess"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

func newLoopOverPipe(backend llmsubprocess.Backend) (orchConn net.Conn, serverConn net.Conn, serverW *bufio.Writer, serverR *bufio.Reader, done chan error) {
	orchConn, serverConn = net.Pipe()
	l := NewLoop(backend, "", nil)
	r := bufio.NewReader(orchConn)
	w := bufio.NewWriter(orchConn)
	serverW = bufio.NewWriter(serverConn)
	serverR = bufio.NewReader(serverConn)
	done = make(chan error, 1)
	go func() { done <- l.Run(context.Background(), r, w) }()
	return
}

func TestVoiceLoopProcessesTranscriptionAndSendsResponse(t *testing.T) {
	backend := llmsubprocess.NewMockBackend("Hello there.")
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteServerMsg(serverW, wire.ErrorMsg("ignored")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("what time is it")); err != nil {
		t.Fatalf("write transcribed text: %v", err)
	}

	msg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if msg.Tag != wire.TagResponseText || msg.Text != "Hello there." {
		t.Fatalf("unexpected response: %+v", msg)
	}

	orchConn.Close()
	serverConn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}

// recordingBackend captures the continueSession flag passed on each call.
type recordingBackend struct {
	continueFlags []bool
}

func (r *recordingBackend) Query(ctx context.Context, prompt, systemPromptFile string, continueSession bool) (string, error) {
	r.continueFlags = append(r.continueFlags, continueSession)
	return "ack", nil
}

func TestVoiceLoopMultiTurnMaintainsContinueFlag(t *testing.T) {
	backend := &recordingBackend{}
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	for i, text := range []string{"first question", "second question", "third question"} {
		if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText(text)); err != nil {
			t.Fatalf("turn %d write: %v", i, err)
		}
		msg, err := wire.ReadOrchestratorMsg(serverR)
		if err != nil {
			t.Fatalf("turn %d read: %v", i, err)
		}
		if msg.Tag != wire.TagResponseText {
			t.Fatalf("turn %d: expected ResponseText, got tag 0x%02x", i, msg.Tag)
		}
	}

	orchConn.Close()
	serverConn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}

	want := []bool{false, true, true}
	if len(backend.continueFlags) != len(want) {
		t.Fatalf("got %d calls, want %d", len(backend.continueFlags), len(want))
	}
	for i, w := range want {
		if backend.continueFlags[i] != w {
			t.Fatalf("call %d: continueSession = %v, want %v", i, backend.continueFlags[i], w)
		}
	}
}

func TestVoiceLoopSendsFallbackOnLlmErrorAndContinues(t *testing.T) {
	backend := &llmsubprocess.FailingMockBackend{Err: errors.New("model down")}
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Tag != wire.TagResponseText || msg.Text != fallbackApology {
		t.Fatalf("expected fallback apology, got %+v", msg)
	}

	orchConn.Close()
	serverConn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}

func TestVoiceLoopFeedbackRetrySkipsResponse(t *testing.T) {
	backend := llmsubprocess.NewMockBackend("[FEEDBACK]Consider rephrasing.[/FEEDBACK] Spoken answer.")
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("a question")); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil {
		t.Fatalf("read feedback: %v", err)
	}
	if msg.Tag != wire.TagFeedbackText || msg.Text != "Consider rephrasing." {
		t.Fatalf("expected FeedbackText, got %+v", msg)
	}

	if err := wire.WriteOrchestratorMsg(serverW, wire.OrcFeedbackChoice(false)); err != nil {
		t.Fatalf("write feedback choice: %v", err)
	}

	// Nothing reads serverConn any more: a ResponseText write would fail
	// on close and surface as a non-nil error from Run.
	orchConn.Close()
	serverConn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected no response after Retry, Run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}

func TestVoiceLoopFeedbackContinueSendsSpokenResponse(t *testing.T) {
	backend := llmsubprocess.NewMockBackend("[FEEDBACK]Minor note.[/FEEDBACK] The spoken part.")
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("a question")); err != nil {
		t.Fatalf("write: %v", err)
	}

	feedbackMsg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil || feedbackMsg.Tag != wire.TagFeedbackText {
		t.Fatalf("expected FeedbackText, got %+v err=%v", feedbackMsg, err)
	}

	if err := wire.WriteOrchestratorMsg(serverW, wire.OrcFeedbackChoice(true)); err != nil {
		t.Fatalf("write choice: %v", err)
	}

	responseMsg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if responseMsg.Tag != wire.TagResponseText || responseMsg.Text != "The spoken part." {
		t.Fatalf("unexpected response: %+v", responseMsg)
	}

	orchConn.Close()
	serverConn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}

func TestVoiceLoopCancelExchangeDoesNotEmitResponse(t *testing.T) {
	backend := llmsubprocess.NewMockBackend("[FEEDBACK]Note.[/FEEDBACK] Would-be spoken answer.")
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("a question")); err != nil {
		t.Fatalf("write: %v", err)
	}

	feedbackMsg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil || feedbackMsg.Tag != wire.TagFeedbackText {
		t.Fatalf("expected FeedbackText, got %+v err=%v", feedbackMsg, err)
	}

	if err := wire.WriteOrchestratorMsg(serverW, wire.OrcCancelExchange()); err != nil {
		t.Fatalf("write cancel: %v", err)
	}

	// Nothing reads serverConn any more: a ResponseText write would fail
	// on close and surface as a non-nil error from Run.
	orchConn.Close()
	serverConn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected no response after CancelExchange, Run returned: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}

func TestTruncateUTF8NeverSplitsAMultibyteCharacter(t *testing.T) {
	cases := []struct {
		in       string
		maxBytes int
		want     string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello"},
		{"", 5, ""},
		// "é" is 2 bytes; byte 4 falls between the second and third é.
		{"ééé", 4, "éé"},
		// "日" is 3 bytes; cutting inside the second rune backs off to 3.
		{"日本語", 5, "日"},
		{"日本語", 6, "日本"},
	}
	for _, c := range cases {
		got := truncateUTF8(c.in, c.maxBytes)
		if got != c.want {
			t.Fatalf("truncateUTF8(%q, %d) = %q, want %q", c.in, c.maxBytes, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncateUTF8(%q, %d) produced invalid UTF-8 %q", c.in, c.maxBytes, got)
		}
	}
}

func TestVoiceLoopSummaryRequestRendersRecordedTurns(t *testing.T) {
	backend := llmsubprocess.NewMockBackend("Hi there.")
	orchConn, serverConn, serverW, serverR, done := newLoopOverPipe(backend)
	defer orchConn.Close()
	defer serverConn.Close()

	if err := wire.WriteOrchestratorMsg(serverW, wire.TranscribedText("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := wire.ReadOrchestratorMsg(serverR); err != nil {
		t.Fatalf("read response: %v", err)
	}

	if err := wire.WriteOrchestratorMsg(serverW, wire.OrcSummaryRequest()); err != nil {
		t.Fatalf("write summary request: %v", err)
	}

	msg, err := wire.ReadOrchestratorMsg(serverR)
	if err != nil {
		t.Fatalf("read summary response: %v", err)
	}
	if msg.Tag != wire.TagSummaryResponse {
		t.Fatalf("expected SummaryResponse, got %+v", msg)
	}
	if !strings.Contains(msg.Text, "hello") || !strings.Contains(msg.Text, "Hi there.") {
		t.Fatalf("summary missing recorded turn: %q", msg.Text)
	}

	orchConn.Close()
	serverConn.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate within 5s")
	}
}
