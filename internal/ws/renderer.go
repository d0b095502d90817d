package ws

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/sschuhmann/Helium/internal/buffer"
	"github.com/sschuhmann/Helium/internal/kernel"
	"github.com/sschuhmann/Helium/internal/logger"
)

// HubRenderer implements the kernel Renderer by broadcasting render events to
// every attached editor. Appended text is additionally recorded to the
// history buffer (for hot restore) and the session transcript.
type HubRenderer struct {
	hub        *Hub
	history    *buffer.HistoryBuffer
	transcript *logger.TranscriptLogger
}

// NewHubRenderer creates a renderer over the given hub. history and
// transcript may be nil.
func NewHubRenderer(hub *Hub, history *buffer.HistoryBuffer, transcript *logger.TranscriptLogger) *HubRenderer {
	return &HubRenderer{
		hub:        hub,
		history:    history,
		transcript: transcript,
	}
}

func (r *HubRenderer) record(text string) {
	if r.history != nil {
		r.history.Write([]byte(text))
	}
	if r.transcript != nil {
		if err := r.transcript.WriteOutput(text); err != nil {
			log.Printf("transcript write failed: %v", err)
		}
	}
}

// AppendText appends text to the session output surface.
func (r *HubRenderer) AppendText(text string) {
	r.record(text)
	r.hub.BroadcastEvent(&Event{Type: EventAppend, Data: text})
}

// ShowBlockContent appends block HTML to the output surface.
func (r *HubRenderer) ShowBlockContent(html string) {
	r.hub.BroadcastEvent(&Event{Type: EventBlockHTML, Data: html})
}

// ShowBlockImage appends a base64 PNG to the output surface.
func (r *HubRenderer) ShowBlockImage(base64Data string) {
	r.hub.BroadcastEvent(&Event{
		Type: EventBlockImage,
		Data: kernel.BlockImageHTML(base64Data),
	})
}

// ShowInlineContent anchors an HTML fragment at the given output target.
func (r *HubRenderer) ShowInlineContent(html string, target kernel.OutputTarget) {
	r.hub.BroadcastEvent(&Event{
		Type:       EventInlineHTML,
		Data:       kernel.TextFragment(html),
		ViewHandle: target.Handle,
		Pos:        target.Pos,
	})
}

// ShowInlineImage anchors a base64 PNG at the given output target.
func (r *HubRenderer) ShowInlineImage(base64Data string, target kernel.OutputTarget) {
	r.hub.BroadcastEvent(&Event{
		Type:       EventInlineImage,
		Data:       kernel.ImageFragment(base64Data),
		ViewHandle: target.Handle,
		Pos:        target.Pos,
	})
}

// ShowPanel displays text in the object inspection panel.
func (r *HubRenderer) ShowPanel(text string) {
	r.hub.BroadcastEvent(&Event{Type: EventPanel, Data: text})
}

// pendingPrompt holds the callbacks of one outstanding input prompt.
type pendingPrompt struct {
	onAnswer    func(string)
	onInterrupt func()
}

// HubPrompter implements the kernel Prompter over the hub: a prompt event
// goes out to the editors, and the first input_reply (or input_interrupt)
// carrying the prompt id resolves it.
type HubPrompter struct {
	hub *Hub

	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

// NewHubPrompter creates a prompter over the given hub.
func NewHubPrompter(hub *Hub) *HubPrompter {
	return &HubPrompter{
		hub:     hub,
		pending: make(map[string]*pendingPrompt),
	}
}

func (p *HubPrompter) prompt(prompt string, password bool, onAnswer func(string), onInterrupt func()) {
	promptID := uuid.New().String()

	p.mu.Lock()
	p.pending[promptID] = &pendingPrompt{onAnswer: onAnswer, onInterrupt: onInterrupt}
	p.mu.Unlock()

	p.hub.BroadcastEvent(&Event{
		Type:     EventPrompt,
		PromptID: promptID,
		Prompt:   prompt,
		Password: password,
	})
}

// PromptText asks the attached editors for plain input.
func (p *HubPrompter) PromptText(prompt string, onAnswer func(string), onInterrupt func()) {
	p.prompt(prompt, false, onAnswer, onInterrupt)
}

// PromptPassword asks the attached editors for hidden input.
func (p *HubPrompter) PromptPassword(prompt string, onAnswer func(string), onInterrupt func()) {
	p.prompt(prompt, true, onAnswer, onInterrupt)
}

// take removes and returns the pending prompt for id, if any. A reply for an
// already-resolved prompt is dropped.
func (p *HubPrompter) take(promptID string) *pendingPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()

	pp, ok := p.pending[promptID]
	if !ok {
		return nil
	}
	delete(p.pending, promptID)
	return pp
}

// Answer resolves a pending prompt with the user's input.
func (p *HubPrompter) Answer(promptID, text string) {
	if pp := p.take(promptID); pp != nil && pp.onAnswer != nil {
		pp.onAnswer(text)
	}
}

// Interrupt resolves a pending prompt by interrupting the kernel instead.
func (p *HubPrompter) Interrupt(promptID string) {
	if pp := p.take(promptID); pp != nil && pp.onInterrupt != nil {
		pp.onInterrupt()
	}
}

// PendingCount returns the number of unresolved prompts.
func (p *HubPrompter) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
