package client

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/spacecodeur/space-language-trainer/internal/audio"
	"github.com/spacecodeur/space-language-trainer/internal/wire"
)

func newTestCore(t *testing.T, mode Mode) (*Core, net.Conn, chan []int16, *AtomicHotkeyListener, *FakeKeyboardPoller, *FakeChoiceReader, *bytes.Buffer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	captured := make(chan []int16, 8)
	hotkey := NewAtomicHotkeyListener()
	keyboard := &FakeKeyboardPoller{}
	choices := &FakeChoiceReader{}
	var out bytes.Buffer

	core := NewCore(Config{
		Conn:       clientConn,
		DeviceRate: 16000,
		Captured:   captured,
		Playback:   audio.NewPlaybackEngine(16000, 8),
		Mode:       mode,
		VAD:        audio.NewVAD(audio.DefaultVADConfig()),
		Hotkey:     hotkey,
		Keyboard:   keyboard,
		Choices:    choices,
		Out:        &out,
	})

	return core, serverConn, captured, hotkey, keyboard, choices, &out
}

func readClientMsgWithTimeout(t *testing.T, conn net.Conn, timeout time.Duration) wire.ClientMsg {
	t.Helper()
	r := wire.NewReader(conn)
	type result struct {
		msg wire.ClientMsg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := wire.ReadClientMsg(r)
		ch <- result{msg, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("ReadClientMsg: %v", res.err)
		}
		return res.msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for client message")
		return wire.ClientMsg{}
	}
}

func TestManualModeSendsAccumulatedSegmentOnListeningOff(t *testing.T) {
	core, serverConn, captured, hotkey, _, _, _ := newTestCore(t, ModeManual)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	hotkey.SetListening(true)
	time.Sleep(150 * time.Millisecond) // let the loop observe the edge and create the resampler
	captured <- []int16{1, 2, 3, 4}

	time.Sleep(150 * time.Millisecond)
	hotkey.SetListening(false)

	msg := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagAudioSegment {
		t.Fatalf("expected AudioSegment, got tag 0x%02x", msg.Tag)
	}
	if len(msg.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(msg.Samples))
	}

	cancel()
	serverConn.Close()
	<-done
}

func TestAutoModeSendsPauseRequestOnListeningOff(t *testing.T) {
	core, serverConn, _, hotkey, _, _, _ := newTestCore(t, ModeAuto)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	hotkey.SetListening(true)
	time.Sleep(150 * time.Millisecond)
	hotkey.SetListening(false)

	// The listening-on edge sends ResumeRequest in Auto mode first.
	msg := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagResumeRequest {
		t.Fatalf("expected ResumeRequest first, got tag 0x%02x", msg.Tag)
	}
	msg = readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagPauseRequest {
		t.Fatalf("expected PauseRequest, got tag 0x%02x", msg.Tag)
	}

	cancel()
	serverConn.Close()
	<-done
}

func TestCancelKeyWhilePlayingSendsInterruptThenCancel(t *testing.T) {
	core, serverConn, _, hotkey, _, _, _ := newTestCore(t, ModeManual)
	core.isPlaying.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	hotkey.PressCancel()

	first := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if first.Tag != wire.TagInterruptTts {
		t.Fatalf("expected InterruptTts first, got tag 0x%02x", first.Tag)
	}
	second := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if second.Tag != wire.TagCancelExchangeC {
		t.Fatalf("expected CancelExchange second, got tag 0x%02x", second.Tag)
	}

	cancel()
	serverConn.Close()
	<-done
}

func TestCancelKeyWhileListeningDoesNothing(t *testing.T) {
	core, serverConn, _, hotkey, _, _, _ := newTestCore(t, ModeAuto)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	core.replay.Append([]int16{1, 2, 3})
	hotkey.SetListening(true)

	// Listening-on edge emits ResumeRequest in Auto mode.
	msg := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagResumeRequest {
		t.Fatalf("expected ResumeRequest on listening-on, got tag 0x%02x", msg.Tag)
	}

	hotkey.PressCancel()
	time.Sleep(300 * time.Millisecond)

	if hotkey.CancelPressed() {
		t.Fatal("expected the cancel press to have been consumed by the loop")
	}
	if core.replay.Empty() {
		t.Fatal("cancel while listening must not clear the replay buffer")
	}

	// The next frame on the wire is the listening-off PauseRequest, not a
	// CancelExchange from the earlier press.
	hotkey.SetListening(false)
	msg = readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagPauseRequest {
		t.Fatalf("expected PauseRequest on listening-off, got tag 0x%02x", msg.Tag)
	}

	cancel()
	serverConn.Close()
	<-done
}

func TestQuitFlowDeclinedLeavesLoopRunning(t *testing.T) {
	core, serverConn, _, _, keyboard, choices, _ := newTestCore(t, ModeManual)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	keyboard.Push('q')
	choices.Push('n')

	time.Sleep(300 * time.Millisecond)
	if core.quitRequested.Load() {
		t.Fatal("expected quitRequested to be cleared after declining")
	}
	select {
	case err := <-done:
		t.Fatalf("expected Run to keep going after declining quit, but it returned: %v", err)
	default:
	}

	cancel()
	serverConn.Close()
	<-done
}

func TestFeedbackGateReplayPushesAudioWithoutBlockingChoice(t *testing.T) {
	core, serverConn, _, _, _, choices, out := newTestCore(t, ModeManual)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	// Pre-populate the replay buffer as if a response had just streamed.
	core.replay.Append([]int16{1, 2, 3})

	serverW := wire.NewWriter(serverConn)
	if err := wire.WriteServerMsg(serverW, wire.Feedback("RED: bad grammar\nCORRECTED: I <<went>> to the store")); err != nil {
		t.Fatalf("write feedback: %v", err)
	}

	choices.Push('3') // replay
	choices.Push('1') // continue

	msg := readClientMsgWithTimeout(t, serverConn, 2*time.Second)
	if msg.Tag != wire.TagFeedbackChoiceC || !msg.Choice {
		t.Fatalf("expected FeedbackChoice(continue), got %+v", msg)
	}
	if !bytes.Contains(out.Bytes(), []byte("bad grammar")) {
		t.Fatalf("expected rendered feedback line, got %q", out.String())
	}

	cancel()
	serverConn.Close()
	<-done
}
