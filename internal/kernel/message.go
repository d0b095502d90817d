// Package kernel implements the connection core between an editor frontend
// and a running Jupyter kernel: the receive loops for the shell, iopub and
// stdin channels, the request/reply correlation registry, and the execution
// state machine driven by status notifications.
package kernel

import (
	"errors"
	"time"
)

// ProtocolVersion is the Jupyter messaging protocol version spoken here.
const ProtocolVersion = "5.0"

// ErrNoMessage is returned by Transport poll calls when no message arrived
// within the given timeout. It is not an error condition for the loops.
var ErrNoMessage = errors.New("no message within timeout")

// MsgType identifies the kind of a kernel message.
type MsgType string

const (
	MsgTypeExecuteInput  MsgType = "execute_input"
	MsgTypeExecuteResult MsgType = "execute_result"
	MsgTypeExecuteReply  MsgType = "execute_reply"
	MsgTypeCompleteReply MsgType = "complete_reply"
	MsgTypeInspectReply  MsgType = "inspect_reply"
	MsgTypeDisplayData   MsgType = "display_data"
	MsgTypeInputRequest  MsgType = "input_request"
	MsgTypeError         MsgType = "error"
	MsgTypeStream        MsgType = "stream"
	MsgTypeStatus        MsgType = "status"
	MsgTypeUnknown       MsgType = "unknown"
)

var knownMsgTypes = map[MsgType]bool{
	MsgTypeExecuteInput:  true,
	MsgTypeExecuteResult: true,
	MsgTypeExecuteReply:  true,
	MsgTypeCompleteReply: true,
	MsgTypeInspectReply:  true,
	MsgTypeDisplayData:   true,
	MsgTypeInputRequest:  true,
	MsgTypeError:         true,
	MsgTypeStream:        true,
	MsgTypeStatus:        true,
}

// ClassifyMsgType maps a wire msg_type string onto a known MsgType.
// Anything the core does not handle classifies as MsgTypeUnknown.
func ClassifyMsgType(s string) MsgType {
	if knownMsgTypes[MsgType(s)] {
		return MsgType(s)
	}
	return MsgTypeUnknown
}

// ExecState is the kernel execution state reported on the iopub channel.
type ExecState string

const (
	ExecStateBusy     ExecState = "busy"
	ExecStateIdle     ExecState = "idle"
	ExecStateStarting ExecState = "starting"
	// ExecStateUnknown is not part of the protocol; it covers the window
	// before the first status notification and unparseable status values.
	ExecStateUnknown ExecState = "unknown"
)

// ParseExecState maps a wire execution_state value onto ExecState.
func ParseExecState(s string) ExecState {
	switch ExecState(s) {
	case ExecStateBusy, ExecStateIdle, ExecStateStarting:
		return ExecState(s)
	default:
		return ExecStateUnknown
	}
}

// Header is the identifying part of a message envelope.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Date     string `json:"date,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is a received kernel message. Immutable once received.
type Message struct {
	Header       Header                 `json:"header"`
	ParentHeader Header                 `json:"parent_header"`
	Content      map[string]interface{} `json:"content"`
	Channel      string                 `json:"channel,omitempty"`
}

// Type returns the classified message type.
func (m *Message) Type() MsgType {
	return ClassifyMsgType(m.Header.MsgType)
}

// ParentID returns the msg_id of the originating request, or "" if none.
func (m *Message) ParentID() string {
	return m.ParentHeader.MsgID
}

// str reads a string field out of the content payload.
func str(content map[string]interface{}, key string) (string, bool) {
	v, ok := content[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Transport is the channel-level client the connection core runs on.
// Request message ids are generated by the caller and passed in, so inboxes
// and output targets can be registered before anything hits the wire.
type Transport interface {
	// Execute sends an execute_request carrying the given message id.
	Execute(msgID, code string) error

	// Complete sends a complete_request for code completion at cursorPos.
	Complete(msgID, code string, cursorPos int) error

	// Inspect sends an inspect_request for the object at cursorPos.
	Inspect(msgID, code string, cursorPos, detailLevel int) error

	// SendInput answers a pending input_request from the kernel.
	SendInput(text string) error

	// Interrupt asks the kernel to interrupt the current execution.
	Interrupt() error

	// PollShell returns the next shell reply, or ErrNoMessage after timeout.
	PollShell(timeout time.Duration) (*Message, error)

	// PollIOPub returns the next broadcast notification, or ErrNoMessage.
	PollIOPub(timeout time.Duration) (*Message, error)

	// PollStdin returns the next kernel-initiated input request, or ErrNoMessage.
	PollStdin(timeout time.Duration) (*Message, error)

	// HeartbeatAlive reports whether the kernel heartbeat is still beating.
	HeartbeatAlive() bool
}
