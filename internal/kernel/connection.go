package kernel

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPollTimeout bounds each channel poll, and therefore how long a loop
// takes to notice a shutdown request.
const DefaultPollTimeout = 1 * time.Second

// Config carries per-connection settings injected at construction.
type Config struct {
	// Name is the display name of the connection, shown to users.
	Name string

	// InlineOutput selects inline fragments anchored at the triggering code
	// over the appended output surface.
	InlineOutput bool

	// PollTimeout is the bounded wait for each channel poll.
	PollTimeout time.Duration
}

// Completion is one completion candidate: the label shown in the completion
// list and the text inserted when picked.
type Completion struct {
	Label string
	Text  string
}

// Connection owns the interaction with one running kernel: the transport
// client, the three receiver loops, the reply registry, the execution state
// and the output target map. Exactly one Connection exists per live kernel.
type Connection struct {
	client   Transport
	renderer Renderer
	prompter Prompter

	nameMu sync.RWMutex
	name   string

	inlineOutput bool
	pollTimeout  time.Duration

	registry *replyRegistry

	stateMu sync.RWMutex
	state   ExecState

	targetsMu sync.RWMutex
	targets   map[string]OutputTarget

	stop chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewConnection wires a connection over the given transport and starts the
// shell, iopub and stdin receiver loops.
func NewConnection(client Transport, renderer Renderer, prompter Prompter, cfg Config) *Connection {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	c := &Connection{
		client:       client,
		renderer:     renderer,
		prompter:     prompter,
		name:         cfg.Name,
		inlineOutput: cfg.InlineOutput,
		pollTimeout:  cfg.PollTimeout,
		registry:     newReplyRegistry(),
		state:        ExecStateUnknown,
		targets:      make(map[string]OutputTarget),
		stop:         make(chan struct{}),
	}

	c.wg.Add(3)
	go c.runShellRouter()
	go c.runIOPubDispatcher()
	go c.runStdinHandler()

	return c
}

// Name returns the connection display name.
func (c *Connection) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	return c.name
}

// SetName updates the connection display name. Safe to call while the
// connection is executing.
func (c *Connection) SetName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// ExecutionState returns the last execution state reported by the kernel.
func (c *Connection) ExecutionState() ExecState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// setExecutionState is called only from the iopub dispatcher.
func (c *Connection) setExecutionState(state ExecState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// Alive reports whether the kernel heartbeat is still beating.
func (c *Connection) Alive() bool {
	return c.client.HeartbeatAlive()
}

// Shutdown signals the receiver loops to stop and waits for them. Each loop
// observes the signal at its next poll boundary, so shutdown completes within
// one poll timeout per loop. Safe to call more than once.
func (c *Connection) Shutdown() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

// stopping reports whether shutdown has been requested.
func (c *Connection) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// setTarget records the rendering destination for a request id. The entry is
// written before the request is sent, so the iopub dispatcher can never
// observe a sent request without its target.
func (c *Connection) setTarget(msgID string, target OutputTarget) {
	c.targetsMu.Lock()
	c.targets[msgID] = target
	c.targetsMu.Unlock()
}

// clearTarget removes a reserved target after a failed send.
func (c *Connection) clearTarget(msgID string) {
	c.targetsMu.Lock()
	delete(c.targets, msgID)
	c.targetsMu.Unlock()
}

// targetFor looks up the rendering destination for a notification's parent
// request. Notifications without one (code executed without UI context)
// render to the default sink only.
func (c *Connection) targetFor(parentID string) (OutputTarget, bool) {
	c.targetsMu.RLock()
	defer c.targetsMu.RUnlock()
	t, ok := c.targets[parentID]
	return t, ok
}

// Execute sends code to the kernel. Output and errors come back
// asynchronously on the iopub channel and are routed to target.
func (c *Connection) Execute(code string, target OutputTarget) (string, error) {
	msgID := uuid.New().String()
	c.setTarget(msgID, target)
	if err := c.client.Execute(msgID, code); err != nil {
		c.clearTarget(msgID)
		return "", fmt.Errorf("execute request failed: %w", err)
	}
	log.Printf("kernel %s executing code ```%s```", c.Name(), code)
	return msgID, nil
}

// Complete requests code completion at cursorPos. A kernel that is not idle
// cannot safely answer introspection requests, so the call short-circuits to
// an empty result without touching the transport.
func (c *Connection) Complete(code string, cursorPos int, timeout time.Duration) []Completion {
	if c.ExecutionState() != ExecStateIdle {
		return []Completion{}
	}

	msgID := uuid.New().String()
	if err := c.registry.Register(msgID); err != nil {
		log.Printf("complete: %v", err)
		return []Completion{}
	}
	defer c.registry.Unregister(msgID)

	if err := c.client.Complete(msgID, code, cursorPos); err != nil {
		log.Printf("complete request failed: %v", err)
		return []Completion{}
	}

	reply, ok := c.registry.Take(msgID, timeout)
	if !ok {
		log.Printf("completion timeout")
		return []Completion{}
	}

	return parseCompleteReply(reply.Content)
}

// parseCompleteReply maps a complete_reply content payload to completions.
// Replies carrying the experimental typing metadata are preferred; plain
// matches are labelled as coming from this plugin.
func parseCompleteReply(content map[string]interface{}) []Completion {
	if metadata, ok := content["metadata"].(map[string]interface{}); ok {
		if hints, ok := metadata["_jupyter_types_experimental"].([]interface{}); ok {
			completions := make([]Completion, 0, len(hints))
			for _, h := range hints {
				hint, ok := h.(map[string]interface{})
				if !ok {
					continue
				}
				text, ok := hint["text"].(string)
				if !ok {
					continue
				}
				typeInfo := "<no type info>"
				if t, ok := hint["type"].(string); ok && t != "" {
					typeInfo = t
				}
				completions = append(completions, Completion{
					Label: text + "\t" + typeInfo,
					Text:  text,
				})
			}
			return completions
		}
	}

	matches, ok := content["matches"].([]interface{})
	if !ok {
		return []Completion{}
	}
	completions := make([]Completion, 0, len(matches))
	for _, m := range matches {
		match, ok := m.(string)
		if !ok {
			continue
		}
		completions = append(completions, Completion{
			Label: match + "\tHelium",
			Text:  match,
		})
	}
	return completions
}

// Inspect requests object inspection at cursorPos and renders the reply into
// the inspection panel. Inspection is allowed while the kernel is busy.
func (c *Connection) Inspect(code string, cursorPos, detailLevel int, timeout time.Duration) {
	msgID := uuid.New().String()
	if err := c.registry.Register(msgID); err != nil {
		log.Printf("inspect: %v", err)
		return
	}
	defer c.registry.Unregister(msgID)

	if err := c.client.Inspect(msgID, code, cursorPos, detailLevel); err != nil {
		log.Printf("inspect request failed: %v", err)
		return
	}

	reply, ok := c.registry.Take(msgID, timeout)
	if !ok {
		log.Printf("object inspection timeout")
		return
	}

	data, ok := reply.Content["data"].(map[string]interface{})
	if !ok {
		log.Printf("inspect reply without data bundle")
		return
	}
	text, ok := data["text/plain"].(string)
	if !ok {
		log.Printf("inspect reply without text/plain")
		return
	}
	c.renderer.ShowPanel(RemoveANSIEscape(text))
}

// runShellRouter drains the shell channel and delivers each reply to the
// inbox registered under its parent request id. The loop terminates only on
// an explicit stop signal.
func (c *Connection) runShellRouter() {
	defer c.wg.Done()

	for !c.stopping() {
		msg, err := c.client.PollShell(c.pollTimeout)
		if err != nil {
			if err != ErrNoMessage {
				log.Printf("shell channel: %v", err)
			}
			continue
		}
		c.registry.Deliver(msg.ParentID(), msg)
	}
}

// runIOPubDispatcher drains the broadcast channel, updating the execution
// state on status notifications and forwarding content notifications to the
// renderer. A single bad message is logged and skipped; the loop never
// terminates except on the stop signal.
func (c *Connection) runIOPubDispatcher() {
	defer c.wg.Done()

	for !c.stopping() {
		msg, err := c.client.PollIOPub(c.pollTimeout)
		if err != nil {
			if err != ErrNoMessage {
				log.Printf("iopub channel: %v", err)
			}
			continue
		}
		c.dispatchIOPub(msg)
	}
}

// dispatchIOPub handles one broadcast notification.
func (c *Connection) dispatchIOPub(msg *Message) {
	content := msg.Content
	target, hasTarget := c.targetFor(msg.ParentID())

	switch msg.Type() {
	case MsgTypeStatus:
		raw, _ := str(content, "execution_state")
		c.setExecutionState(ParseExecState(raw))

	case MsgTypeExecuteInput:
		code, ok := str(content, "code")
		if !ok {
			log.Printf("execute_input without code")
			return
		}
		c.writeText("\n\n")
		c.writeText(fmt.Sprintf("In[%v]: %s", content["execution_count"], code))

	case MsgTypeError:
		c.handleError(content, target, hasTarget)

	case MsgTypeStream:
		c.handleStream(content, target, hasTarget)

	case MsgTypeDisplayData, MsgTypeExecuteResult:
		data, ok := content["data"].(map[string]interface{})
		if !ok {
			log.Printf("%s without mime bundle", msg.Type())
			return
		}
		c.renderMimeData(data, target, hasTarget)

	case MsgTypeUnknown:
		log.Printf("unhandled iopub message type %q", msg.Header.MsgType)
	}
}

// handleError renders a kernel-side execution error: formatted, ANSI-stripped
// text plus an inline fragment at the request's output location. Formatting
// failures are swallowed; no error propagates to the execute caller.
func (c *Connection) handleError(content map[string]interface{}, target OutputTarget, hasTarget bool) {
	ename, okName := str(content, "ename")
	evalue, okValue := str(content, "evalue")
	if !okName || !okValue {
		return
	}

	var traceback []string
	if rawLines, ok := content["traceback"].([]interface{}); ok {
		for _, l := range rawLines {
			if line, ok := l.(string); ok {
				traceback = append(traceback, line)
			}
		}
	}

	lines := fmt.Sprintf("\nError[%v]: %s, %s.\nTraceback:\n%s",
		content["execution_count"], ename, evalue, strings.Join(traceback, "\n"))
	lines = RemoveANSIEscape(lines)
	c.writeText(lines)
	if hasTarget {
		c.writeInlineContent(streamFragment("error", FixWhitespaceForHTML(lines)), target)
	}
}

// handleStream renders stream output (stdout/stderr) from the kernel.
func (c *Connection) handleStream(content map[string]interface{}, target OutputTarget, hasTarget bool) {
	name, okName := str(content, "name")
	text, okText := str(content, "text")
	if !okName || !okText {
		return
	}

	c.writeText(fmt.Sprintf("\n(%s):\n%s", name, text))
	if text != "" && hasTarget {
		c.writeInlineContent(streamFragment(name, FixWhitespaceForHTML(text)), target)
	}
}

// renderMimeData routes a mime bundle to the renderer. text/plain is
// preferred for the main text rendering; text/html is the block-level
// fallback kernels emit when no plain rendering exists. An image/png payload
// renders independently of the text branches.
func (c *Connection) renderMimeData(data map[string]interface{}, target OutputTarget, hasTarget bool) {
	if plain, ok := data["text/plain"].(string); ok {
		c.writeText(fmt.Sprintf("\n(display data): %s", plain))
		if hasTarget {
			c.writeInlineContent(FixWhitespaceForHTML(plain), target)
		}
	} else if html, ok := data["text/html"].(string); ok {
		log.Printf("caught text/html output without plain text")
		c.writeBlockContent(html)
		if hasTarget {
			c.writeInlineContent(html, target)
		}
	}

	if png, ok := data["image/png"].(string); ok {
		png = strings.TrimSpace(png)
		c.writeBlockImage(png)
		if hasTarget {
			c.writeInlineImage(png, target)
		}
	}
}

// writeText appends to the output surface unless inline output is selected.
func (c *Connection) writeText(text string) {
	if c.inlineOutput {
		return
	}
	c.renderer.AppendText(text)
}

// writeBlockContent shows block HTML unless inline output is selected.
func (c *Connection) writeBlockContent(html string) {
	if c.inlineOutput {
		return
	}
	c.renderer.ShowBlockContent(html)
}

// writeBlockImage shows a block image unless inline output is selected.
func (c *Connection) writeBlockImage(data string) {
	if c.inlineOutput {
		return
	}
	c.renderer.ShowBlockImage(data)
}

// writeInlineContent anchors an HTML fragment at target when inline output
// is selected.
func (c *Connection) writeInlineContent(html string, target OutputTarget) {
	if !c.inlineOutput {
		return
	}
	c.renderer.ShowInlineContent(html, target)
}

// writeInlineImage anchors an inline image at target when inline output is
// selected.
func (c *Connection) writeInlineImage(data string, target OutputTarget) {
	if !c.inlineOutput {
		return
	}
	c.renderer.ShowInlineImage(data, target)
}

// runStdinHandler drains the stdin channel and delegates prompting to the
// UI collaborator. The handler never blocks on the prompt result; answers
// and interrupts come back through callbacks.
func (c *Connection) runStdinHandler() {
	defer c.wg.Done()

	for !c.stopping() {
		msg, err := c.client.PollStdin(c.pollTimeout)
		if err != nil {
			if err != ErrNoMessage {
				log.Printf("stdin channel: %v", err)
			}
			continue
		}
		if msg.Type() != MsgTypeInputRequest {
			continue
		}
		c.handleInputRequest(msg.Content)
	}
}

// handleInputRequest prompts the user for the input the kernel asked for.
func (c *Connection) handleInputRequest(content map[string]interface{}) {
	prompt, _ := str(content, "prompt")
	password, _ := content["password"].(bool)

	answer := func(text string) {
		if err := c.client.SendInput(text); err != nil {
			log.Printf("send input failed: %v", err)
		}
	}
	interrupt := func() {
		if err := c.client.Interrupt(); err != nil {
			log.Printf("interrupt failed: %v", err)
		}
	}

	if password {
		c.prompter.PromptPassword(prompt, answer, interrupt)
	} else {
		c.prompter.PromptText(prompt, answer, interrupt)
	}
}
