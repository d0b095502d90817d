package ws

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sschuhmann/Helium/internal/buffer"
	"github.com/sschuhmann/Helium/internal/kernel"
	"github.com/sschuhmann/Helium/internal/logger"
)

func setupRenderer(t *testing.T) (*HubRenderer, *Client, *buffer.HistoryBuffer, *bytes.Buffer) {
	t.Helper()

	hub := NewHub("session-1")
	client := NewClient(hub, nil, "session-1")
	hub.Register(client)

	history := buffer.NewHistoryBuffer(1024)
	var transcriptBuf bytes.Buffer
	transcript := logger.NewTranscriptLoggerWithWriter(&transcriptBuf)

	return NewHubRenderer(hub, history, transcript), client, history, &transcriptBuf
}

func TestHubRenderer_AppendText(t *testing.T) {
	r, client, history, transcript := setupRenderer(t)

	r.AppendText("In[1]: print(1)")

	ev := drainEvent(t, client)
	if ev.Type != EventAppend || ev.Data != "In[1]: print(1)" {
		t.Errorf("unexpected event %+v", ev)
	}

	// Appended text is recorded for hot restore and the transcript.
	if got := string(history.Snapshot()); got != "In[1]: print(1)" {
		t.Errorf("unexpected history %q", got)
	}
	if !strings.Contains(transcript.String(), `"In[1]: print(1)"`) {
		t.Errorf("transcript missing output event: %s", transcript.String())
	}
}

func TestHubRenderer_BlockContent(t *testing.T) {
	r, client, history, _ := setupRenderer(t)

	r.ShowBlockContent("<table></table>")

	ev := drainEvent(t, client)
	if ev.Type != EventBlockHTML || ev.Data != "<table></table>" {
		t.Errorf("unexpected event %+v", ev)
	}
	// Block HTML does not enter the text history.
	if history.Len() != 0 {
		t.Errorf("expected empty history, got %d bytes", history.Len())
	}
}

func TestHubRenderer_BlockImage(t *testing.T) {
	r, client, _, _ := setupRenderer(t)

	r.ShowBlockImage("aGVsbG8=")

	ev := drainEvent(t, client)
	if ev.Type != EventBlockImage {
		t.Errorf("unexpected event type %s", ev.Type)
	}
	if !strings.Contains(ev.Data, "data:image/png;base64,aGVsbG8=") {
		t.Errorf("expected wrapped image payload, got %q", ev.Data)
	}
}

func TestHubRenderer_InlineContent(t *testing.T) {
	r, client, _, _ := setupRenderer(t)

	target := kernel.OutputTarget{Handle: "view-3", Pos: 17}
	r.ShowInlineContent("<div class=stdout>hi</div>", target)

	ev := drainEvent(t, client)
	if ev.Type != EventInlineHTML {
		t.Errorf("unexpected event type %s", ev.Type)
	}
	if ev.ViewHandle != "view-3" || ev.Pos != 17 {
		t.Errorf("expected target anchoring, got view=%q pos=%d", ev.ViewHandle, ev.Pos)
	}
	if !strings.Contains(ev.Data, "helium-result") {
		t.Errorf("expected inline result body, got %q", ev.Data)
	}
}

func TestHubRenderer_InlineImage(t *testing.T) {
	r, client, _, _ := setupRenderer(t)

	target := kernel.OutputTarget{Handle: "view-3", Pos: 5}
	r.ShowInlineImage("aGVsbG8=", target)

	ev := drainEvent(t, client)
	if ev.Type != EventInlineImage {
		t.Errorf("unexpected event type %s", ev.Type)
	}
	if ev.ViewHandle != "view-3" || ev.Pos != 5 {
		t.Errorf("expected target anchoring, got view=%q pos=%d", ev.ViewHandle, ev.Pos)
	}
	if !strings.Contains(ev.Data, "helium-image-result") {
		t.Errorf("expected inline image body, got %q", ev.Data)
	}
}

func TestHubRenderer_Panel(t *testing.T) {
	r, client, _, _ := setupRenderer(t)

	r.ShowPanel("Signature: foo(x)")

	ev := drainEvent(t, client)
	if ev.Type != EventPanel || ev.Data != "Signature: foo(x)" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHubRenderer_NilHistoryAndTranscript(t *testing.T) {
	hub := NewHub("session-1")
	r := NewHubRenderer(hub, nil, nil)

	// Must not panic without recording sinks.
	r.AppendText("text")
}
