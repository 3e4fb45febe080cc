// Package wire implements the framed duplex protocol that binds the
// client, server, and orchestrator processes together.
//
// Every message on the wire uses the same frame: a one-byte tag, a
// four-byte little-endian length, and exactly that many payload bytes.
// Three tag families share the frame format: client messages (0x01-0x7F),
// server messages (0x80-0x9F), and orchestrator messages (0xA0-0xBF). The
// server and orchestrator share the server tag space so a single reader
// can decode frames arriving from either peer on the Unix socket.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// Tag values, grouped by family.
const (
	TagAudioSegment  byte = 0x01
	TagPauseRequest  byte = 0x02
	TagResumeRequest byte = 0x03
	TagInterruptTts  byte = 0x04
	TagFeedbackChoiceC byte = 0x05
	TagSummaryRequestC byte = 0x06
	TagCancelExchangeC byte = 0x07

	TagReady             byte = 0x80
	TagText              byte = 0x81
	TagError             byte = 0x82
	TagTtsAudioChunk     byte = 0x83
	TagTtsEnd            byte = 0x84
	TagFeedback          byte = 0x85
	TagSessionSummary    byte = 0x86
	TagStatusNotification byte = 0x87

	TagTranscribedText  byte = 0xA0
	TagResponseText     byte = 0xA1
	TagSessionStart     byte = 0xA2
	TagSessionEnd       byte = 0xA3
	TagFeedbackText     byte = 0xA4
	TagFeedbackChoiceO  byte = 0xA5
	TagSummaryRequestO  byte = 0xA6
	TagSummaryResponse  byte = 0xA7
	TagStatusNotificationO byte = 0xA8
	TagCancelExchangeO  byte = 0xA9
)

// ClientMsg is a message sent from the client to the server over TCP.
type ClientMsg struct {
	Tag     byte
	Samples []int16 // AudioSegment
	Choice  bool    // FeedbackChoice: true = continue, false = retry
}

func AudioSegment(samples []int16) ClientMsg { return ClientMsg{Tag: TagAudioSegment, Samples: samples} }
func PauseRequest() ClientMsg                { return ClientMsg{Tag: TagPauseRequest} }
func ResumeRequest() ClientMsg               { return ClientMsg{Tag: TagResumeRequest} }
func InterruptTts() ClientMsg                { return ClientMsg{Tag: TagInterruptTts} }
func ClientFeedbackChoice(choice bool) ClientMsg {
	return ClientMsg{Tag: TagFeedbackChoiceC, Choice: choice}
}
func ClientSummaryRequest() ClientMsg  { return ClientMsg{Tag: TagSummaryRequestC} }
func ClientCancelExchange() ClientMsg  { return ClientMsg{Tag: TagCancelExchangeC} }

// ServerMsg is a message sent from the server to the client over TCP.
type ServerMsg struct {
	Tag     byte
	Text    string // Text, Error, Feedback, SessionSummary, StatusNotification
	Samples []int16 // TtsAudioChunk
}

func Ready() ServerMsg                       { return ServerMsg{Tag: TagReady} }
func Text(s string) ServerMsg                { return ServerMsg{Tag: TagText, Text: s} }
func ErrorMsg(s string) ServerMsg            { return ServerMsg{Tag: TagError, Text: s} }
func TtsAudioChunk(samples []int16) ServerMsg { return ServerMsg{Tag: TagTtsAudioChunk, Samples: samples} }
func TtsEnd() ServerMsg                      { return ServerMsg{Tag: TagTtsEnd} }
func Feedback(s string) ServerMsg            { return ServerMsg{Tag: TagFeedback, Text: s} }
func SessionSummary(s string) ServerMsg      { return ServerMsg{Tag: TagSessionSummary, Text: s} }
func StatusNotification(s string) ServerMsg  { return ServerMsg{Tag: TagStatusNotification, Text: s} }

// OrchestratorMsg is a message exchanged between server and orchestrator
// over the Unix-domain socket, using only the 0xA0-0xA9 orchestrator
// tags (status notifications travel as TagStatusNotificationO). Frames
// the orchestrator reads in the server tag space (Ready, Error) are
// decoded as ServerOrcMsg instead.
type OrchestratorMsg struct {
	Tag    byte
	Text   string // TranscribedText, ResponseText, SessionStart(json), FeedbackText, SummaryResponse, StatusNotification
	Choice bool   // FeedbackChoice
}

func TranscribedText(s string) OrchestratorMsg { return OrchestratorMsg{Tag: TagTranscribedText, Text: s} }
func ResponseText(s string) OrchestratorMsg    { return OrchestratorMsg{Tag: TagResponseText, Text: s} }
func SessionStart(json string) OrchestratorMsg { return OrchestratorMsg{Tag: TagSessionStart, Text: json} }
func SessionEnd() OrchestratorMsg              { return OrchestratorMsg{Tag: TagSessionEnd} }
func FeedbackText(s string) OrchestratorMsg    { return OrchestratorMsg{Tag: TagFeedbackText, Text: s} }
func OrcFeedbackChoice(choice bool) OrchestratorMsg {
	return OrchestratorMsg{Tag: TagFeedbackChoiceO, Choice: choice}
}
func OrcSummaryRequest() OrchestratorMsg    { return OrchestratorMsg{Tag: TagSummaryRequestO} }
func SummaryResponse(s string) OrchestratorMsg { return OrchestratorMsg{Tag: TagSummaryResponse, Text: s} }
func OrcStatusNotification(s string) OrchestratorMsg {
	return OrchestratorMsg{Tag: TagStatusNotificationO, Text: s}
}
func OrcCancelExchange() OrchestratorMsg { return OrchestratorMsg{Tag: TagCancelExchangeO} }

// ServerOrcMsg is what the orchestrator reads from the shared server tag
// space: either a plain ServerMsg-family frame (Ready, Error) or an
// orchestrator-family frame forwarded by the server (TranscribedText, etc).
type ServerOrcMsg struct {
	Tag    byte
	Text   string
	Choice bool
}

// writeFrame writes one tag/length/payload frame and flushes.
func writeFrame(w *bufio.Writer, tag byte, payload []byte) error {
	if err := w.WriteByte(tag); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) (byte, []byte, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return tag, payload, nil
}

func encodeSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func decodeSamples(payload []byte) ([]int16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("audio payload length %d is not a multiple of 2", len(payload))
	}
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples, nil
}

// WriteClientMsg writes a ClientMsg frame to w and flushes.
func WriteClientMsg(w *bufio.Writer, m ClientMsg) error {
	switch m.Tag {
	case TagAudioSegment:
		return writeFrame(w, m.Tag, encodeSamples(m.Samples))
	case TagFeedbackChoiceC:
		v := byte(0x00)
		if m.Choice {
			v = 0x01
		}
		return writeFrame(w, m.Tag, []byte{v})
	case TagPauseRequest, TagResumeRequest, TagInterruptTts, TagSummaryRequestC, TagCancelExchangeC:
		return writeFrame(w, m.Tag, nil)
	default:
		return fmt.Errorf("unknown client message tag: 0x%02x", m.Tag)
	}
}

// ReadClientMsg reads and decodes one ClientMsg frame from r.
func ReadClientMsg(r *bufio.Reader) (ClientMsg, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return ClientMsg{}, err
	}
	switch tag {
	case TagAudioSegment:
		samples, err := decodeSamples(payload)
		if err != nil {
			return ClientMsg{}, err
		}
		return ClientMsg{Tag: tag, Samples: samples}, nil
	case TagPauseRequest, TagResumeRequest, TagInterruptTts, TagSummaryRequestC, TagCancelExchangeC:
		return ClientMsg{Tag: tag}, nil
	case TagFeedbackChoiceC:
		// A zero-length payload permissively decodes to "continue" (0x01).
		// This is load-bearing for forward compatibility; do not tighten it.
		v := byte(0x01)
		if len(payload) > 0 {
			v = payload[0]
		}
		return ClientMsg{Tag: tag, Choice: v != 0x00}, nil
	default:
		return ClientMsg{}, fmt.Errorf("unknown client message tag: 0x%02x", tag)
	}
}

// WriteServerMsg writes a ServerMsg frame to w and flushes.
func WriteServerMsg(w *bufio.Writer, m ServerMsg) error {
	switch m.Tag {
	case TagReady, TagTtsEnd:
		return writeFrame(w, m.Tag, nil)
	case TagText, TagError, TagFeedback, TagSessionSummary, TagStatusNotification:
		return writeFrame(w, m.Tag, []byte(m.Text))
	case TagTtsAudioChunk:
		return writeFrame(w, m.Tag, encodeSamples(m.Samples))
	default:
		return fmt.Errorf("unknown server message tag: 0x%02x", m.Tag)
	}
}

// ReadServerMsg reads and decodes one ServerMsg frame from r.
func ReadServerMsg(r *bufio.Reader) (ServerMsg, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return ServerMsg{}, err
	}
	switch tag {
	case TagReady, TagTtsEnd:
		return ServerMsg{Tag: tag}, nil
	case TagText, TagError, TagFeedback, TagSessionSummary, TagStatusNotification:
		return ServerMsg{Tag: tag, Text: string(payload)}, nil
	case TagTtsAudioChunk:
		samples, err := decodeSamples(payload)
		if err != nil {
			return ServerMsg{}, err
		}
		return ServerMsg{Tag: tag, Samples: samples}, nil
	default:
		return ServerMsg{}, fmt.Errorf("unknown server message tag: 0x%02x", tag)
	}
}

// WriteOrchestratorMsg writes an OrchestratorMsg frame to w and flushes.
func WriteOrchestratorMsg(w *bufio.Writer, m OrchestratorMsg) error {
	switch m.Tag {
	case TagSessionEnd, TagSummaryRequestO, TagCancelExchangeO:
		return writeFrame(w, m.Tag, nil)
	case TagTranscribedText, TagResponseText, TagSessionStart, TagFeedbackText, TagSummaryResponse, TagStatusNotificationO:
		return writeFrame(w, m.Tag, []byte(m.Text))
	case TagFeedbackChoiceO:
		v := byte(0x00)
		if m.Choice {
			v = 0x01
		}
		return writeFrame(w, m.Tag, []byte{v})
	default:
		return fmt.Errorf("unknown orchestrator message tag: 0x%02x", m.Tag)
	}
}

// ReadOrchestratorMsg reads and decodes one OrchestratorMsg frame from r.
func ReadOrchestratorMsg(r *bufio.Reader) (OrchestratorMsg, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return OrchestratorMsg{}, err
	}
	switch tag {
	case TagSessionEnd, TagSummaryRequestO, TagCancelExchangeO:
		return OrchestratorMsg{Tag: tag}, nil
	case TagTranscribedText, TagResponseText, TagSessionStart, TagFeedbackText, TagSummaryResponse, TagStatusNotificationO:
		return OrchestratorMsg{Tag: tag, Text: string(payload)}, nil
	case TagFeedbackChoiceO:
		v := byte(0x01)
		if len(payload) > 0 {
			v = payload[0]
		}
		return OrchestratorMsg{Tag: tag, Choice: v != 0x00}, nil
	default:
		return OrchestratorMsg{}, fmt.Errorf("unknown orchestrator message tag: 0x%02x", tag)
	}
}

// ReadServerOrcMsg reads one frame from the shared server tag space, as seen
// by the orchestrator: either a bare ServerMsg frame (Ready, Error) or an
// orchestrator-family frame the server forwarded (TranscribedText, FeedbackChoice, ...).
func ReadServerOrcMsg(r *bufio.Reader) (ServerOrcMsg, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return ServerOrcMsg{}, err
	}
	switch tag {
	case TagReady:
		return ServerOrcMsg{Tag: tag}, nil
	case TagError:
		return ServerOrcMsg{Tag: tag, Text: string(payload)}, nil
	case TagTranscribedText, TagFeedbackText, TagSummaryResponse, TagStatusNotificationO:
		return ServerOrcMsg{Tag: tag, Text: string(payload)}, nil
	case TagSummaryRequestO, TagCancelExchangeO, TagSessionEnd:
		return ServerOrcMsg{Tag: tag}, nil
	case TagFeedbackChoiceO:
		v := byte(0x01)
		if len(payload) > 0 {
			v = payload[0]
		}
		return ServerOrcMsg{Tag: tag, Choice: v != 0x00}, nil
	default:
		return ServerOrcMsg{}, fmt.Errorf("unknown server/orchestrator message tag: 0x%02x", tag)
	}
}

// NewWriter wraps a net.Conn (or any io.Writer) in a buffered writer for
// use with the Write*Msg functions above.
func NewWriter(w io.Writer) *bufio.Writer { return bufio.NewWriter(w) }

// NewReader wraps a net.Conn (or any io.Reader) in a buffered reader for
// use with the Read*Msg functions above.
func NewReader(r io.Reader) *bufio.Reader { return bufio.NewReader(r) }

// IsDisconnect reports whether err represents a peer disconnecting
// cleanly (EOF, broken pipe, connection reset) rather than a real failure.
// Callers should treat a true result as normal session termination, never
// logging it as a warning or error.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, os.ErrClosed) {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}
