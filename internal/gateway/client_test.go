package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sschuhmann/Helium/internal/kernel"
)

// fakeGateway is an in-process Jupyter Kernel Gateway: the kernel REST
// surface plus the channels WebSocket.
type fakeGateway struct {
	t *testing.T

	mu       sync.Mutex
	requests []string
	received []*kernel.Message

	upgrader websocket.Upgrader

	connMu sync.Mutex
	conn   *websocket.Conn
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	fg := &fakeGateway{t: t}
	server := httptest.NewServer(fg)
	t.Cleanup(server.Close)
	return fg, server
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/kernels":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(KernelInfo{ID: "kernel-1", Name: body["name"]})

	case strings.HasSuffix(r.URL.Path, "/channels"):
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.connMu.Lock()
		f.conn = conn
		f.connMu.Unlock()
		go f.readLoop(conn)

	case strings.HasSuffix(r.URL.Path, "/interrupt"), strings.HasSuffix(r.URL.Path, "/restart"):
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGateway) readLoop(conn *websocket.Conn) {
	for {
		var msg kernel.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.received = append(f.received, &msg)
		f.mu.Unlock()
	}
}

// push sends a message to the connected client.
func (f *fakeGateway) push(msg *kernel.Message) {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		f.t.Fatal("no channels connection")
	}
	if err := f.conn.WriteJSON(msg); err != nil {
		f.t.Fatalf("failed to push message: %v", err)
	}
}

func (f *fakeGateway) lastReceived() *kernel.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return nil
	}
	return f.received[len(f.received)-1]
}

func (f *fakeGateway) sawRequest(want string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == want {
			return true
		}
	}
	return false
}

func waitUntil(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestGateway_StartKernel(t *testing.T) {
	_, server := newFakeGateway(t)

	gw := New(server.URL)
	info, err := gw.StartKernel("python3")
	if err != nil {
		t.Fatalf("failed to start kernel: %v", err)
	}
	if info.ID != "kernel-1" {
		t.Errorf("expected kernel-1, got %s", info.ID)
	}
	if info.Name != "python3" {
		t.Errorf("expected kernelspec echoed back, got %s", info.Name)
	}
}

func TestGateway_LifecycleCalls(t *testing.T) {
	fg, server := newFakeGateway(t)

	gw := New(server.URL)
	if err := gw.Interrupt("kernel-1"); err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}
	if err := gw.Restart("kernel-1"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if err := gw.Shutdown("kernel-1"); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	for _, want := range []string{
		"POST /api/kernels/kernel-1/interrupt",
		"POST /api/kernels/kernel-1/restart",
		"DELETE /api/kernels/kernel-1",
	} {
		if !fg.sawRequest(want) {
			t.Errorf("expected gateway to see %q", want)
		}
	}
}

func TestGateway_WSURL(t *testing.T) {
	gw := New("http://gateway.example:8888/")
	got, err := gw.wsURL("kernel-1")
	if err != nil {
		t.Fatalf("failed to build ws url: %v", err)
	}
	if got != "ws://gateway.example:8888/api/kernels/kernel-1/channels" {
		t.Errorf("unexpected ws url %s", got)
	}

	gw = New("https://gateway.example")
	got, _ = gw.wsURL("kernel-1")
	if !strings.HasPrefix(got, "wss://") {
		t.Errorf("expected wss scheme, got %s", got)
	}
}

func TestClient_ExecuteEnvelope(t *testing.T) {
	fg, server := newFakeGateway(t)

	gw := New(server.URL)
	client, err := gw.Connect("kernel-1")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Execute("msg-42", "print(1)"); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	waitUntil(t, func() bool { return fg.lastReceived() != nil }, "execute_request")

	msg := fg.lastReceived()
	if msg.Channel != "shell" {
		t.Errorf("expected shell channel, got %q", msg.Channel)
	}
	if msg.Header.MsgType != "execute_request" {
		t.Errorf("expected execute_request, got %q", msg.Header.MsgType)
	}
	// The caller-supplied id must reach the wire unchanged.
	if msg.Header.MsgID != "msg-42" {
		t.Errorf("expected msg-42, got %q", msg.Header.MsgID)
	}
	if msg.Header.Version != kernel.ProtocolVersion {
		t.Errorf("expected protocol version %s, got %q", kernel.ProtocolVersion, msg.Header.Version)
	}
	if code, _ := msg.Content["code"].(string); code != "print(1)" {
		t.Errorf("expected code in content, got %v", msg.Content["code"])
	}
	if allowStdin, _ := msg.Content["allow_stdin"].(bool); !allowStdin {
		t.Error("expected allow_stdin to be set")
	}
}

func TestClient_ChannelDemux(t *testing.T) {
	fg, server := newFakeGateway(t)

	gw := New(server.URL)
	client, err := gw.Connect("kernel-1")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	fg.push(&kernel.Message{
		Header:  kernel.Header{MsgID: "s1", MsgType: "complete_reply"},
		Channel: "shell",
	})
	fg.push(&kernel.Message{
		Header:  kernel.Header{MsgID: "i1", MsgType: "status"},
		Content: map[string]interface{}{"execution_state": "idle"},
		Channel: "iopub",
	})
	fg.push(&kernel.Message{
		Header:  kernel.Header{MsgID: "d1", MsgType: "input_request"},
		Channel: "stdin",
	})
	// Unknown channels are ignored.
	fg.push(&kernel.Message{
		Header:  kernel.Header{MsgID: "c1", MsgType: "comm_msg"},
		Channel: "control",
	})

	shell, err := client.PollShell(2 * time.Second)
	if err != nil {
		t.Fatalf("shell poll failed: %v", err)
	}
	if shell.Header.MsgID != "s1" {
		t.Errorf("expected s1 on shell, got %s", shell.Header.MsgID)
	}

	iopub, err := client.PollIOPub(2 * time.Second)
	if err != nil {
		t.Fatalf("iopub poll failed: %v", err)
	}
	if iopub.Header.MsgID != "i1" {
		t.Errorf("expected i1 on iopub, got %s", iopub.Header.MsgID)
	}

	stdin, err := client.PollStdin(2 * time.Second)
	if err != nil {
		t.Fatalf("stdin poll failed: %v", err)
	}
	if stdin.Header.MsgID != "d1" {
		t.Errorf("expected d1 on stdin, got %s", stdin.Header.MsgID)
	}

	// Nothing else queued: the poll times out with the sentinel.
	if _, err := client.PollShell(30 * time.Millisecond); err != kernel.ErrNoMessage {
		t.Errorf("expected ErrNoMessage, got %v", err)
	}
}

func TestClient_HeartbeatAfterClose(t *testing.T) {
	_, server := newFakeGateway(t)

	gw := New(server.URL)
	client, err := gw.Connect("kernel-1")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if !client.HeartbeatAlive() {
		t.Error("expected heartbeat alive after connect")
	}

	client.Close()
	if client.HeartbeatAlive() {
		t.Error("expected heartbeat dead after close")
	}
	if err := client.SendInput("text"); err == nil {
		t.Error("expected send on closed client to fail")
	}
}

func TestClient_InterruptDelegatesToGateway(t *testing.T) {
	fg, server := newFakeGateway(t)

	gw := New(server.URL)
	client, err := gw.Connect("kernel-1")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Interrupt(); err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}
	if !fg.sawRequest("POST /api/kernels/kernel-1/interrupt") {
		t.Error("expected interrupt to go through the gateway control plane")
	}
}
