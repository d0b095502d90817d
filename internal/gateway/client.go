// Package gateway implements the kernel transport against a Jupyter Kernel
// Gateway: REST calls for kernel lifecycle and the multiplexed channels
// WebSocket, demuxed into the shell, iopub and stdin pollable queues the
// connection core runs on.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sschuhmann/Helium/internal/kernel"
)

const (
	// channelQueueSize bounds each demux queue. The dispatcher loops drain
	// continuously; a full queue means the consumer is gone and messages
	// are dropped rather than stalling the read loop.
	channelQueueSize = 64

	dialTimeout    = 10 * time.Second
	requestTimeout = 10 * time.Second
)

// KernelInfo is the gateway's representation of a running kernel.
type KernelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Gateway talks to a Jupyter Kernel Gateway over HTTP.
type Gateway struct {
	baseURL string
	http    *http.Client
}

// New creates a Gateway for the given base URL, e.g. "http://localhost:8888".
func New(baseURL string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// BaseURL returns the gateway base URL.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// StartKernel asks the gateway to start a kernel of the named kernelspec.
func (g *Gateway) StartKernel(name string) (*KernelInfo, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Post(g.baseURL+"/api/kernels", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to start kernel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway refused kernel start: %s: %s", resp.Status, data)
	}

	var info KernelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode kernel info: %w", err)
	}
	return &info, nil
}

// Interrupt asks the gateway to interrupt the kernel.
func (g *Gateway) Interrupt(kernelID string) error {
	return g.post("/api/kernels/" + kernelID + "/interrupt")
}

// Restart asks the gateway to restart the kernel.
func (g *Gateway) Restart(kernelID string) error {
	return g.post("/api/kernels/" + kernelID + "/restart")
}

// Shutdown asks the gateway to shut the kernel down.
func (g *Gateway) Shutdown(kernelID string) error {
	req, err := http.NewRequest(http.MethodDelete, g.baseURL+"/api/kernels/"+kernelID, nil)
	if err != nil {
		return err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to shut down kernel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway refused kernel shutdown: %s", resp.Status)
	}
	return nil
}

func (g *Gateway) post(path string) error {
	resp, err := g.http.Post(g.baseURL+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway refused %s: %s", path, resp.Status)
	}
	return nil
}

// wsURL converts the gateway base URL to the channels WebSocket URL.
func (g *Gateway) wsURL(kernelID string) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + kernelID + "/channels"
	return u.String(), nil
}

// Connect dials the channels WebSocket for the kernel and returns a Client
// implementing the kernel Transport surface.
func (g *Gateway) Connect(kernelID string) (*Client, error) {
	wsURL, err := g.wsURL(kernelID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kernel channels: %w", err)
	}

	c := &Client{
		gateway:  g,
		kernelID: kernelID,
		conn:     conn,
		session:  kernelID,
		shell:    make(chan *kernel.Message, channelQueueSize),
		iopub:    make(chan *kernel.Message, channelQueueSize),
		stdin:    make(chan *kernel.Message, channelQueueSize),
	}
	go c.readLoop()
	return c, nil
}

// Client is the channel-level transport for one kernel connection. A single
// reader goroutine demuxes incoming messages by channel; writes share one
// mutex on the socket.
type Client struct {
	gateway  *Gateway
	kernelID string
	session  string

	writeMu sync.Mutex
	conn    *websocket.Conn

	shell chan *kernel.Message
	iopub chan *kernel.Message
	stdin chan *kernel.Message

	mu     sync.RWMutex
	closed bool
}

// KernelID returns the id of the kernel this client is connected to.
func (c *Client) KernelID() string {
	return c.kernelID
}

// readLoop demuxes incoming messages into the per-channel queues. It exits
// when the socket closes; the poll calls keep timing out harmlessly after
// that.
func (c *Client) readLoop() {
	for {
		var msg kernel.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.markClosed()
			return
		}

		var queue chan *kernel.Message
		switch msg.Channel {
		case "shell":
			queue = c.shell
		case "iopub":
			queue = c.iopub
		case "stdin":
			queue = c.stdin
		default:
			continue
		}

		select {
		case queue <- &msg:
		default:
			// Consumer gone or stalled; dropping beats blocking the reader.
		}
	}
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// IsClosed reports whether the socket has been closed.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close closes the channels socket.
func (c *Client) Close() error {
	c.markClosed()
	return c.conn.Close()
}

// HeartbeatAlive reports whether the kernel connection is still live.
func (c *Client) HeartbeatAlive() bool {
	return !c.IsClosed()
}

// send writes a request envelope on the given channel.
func (c *Client) send(channel, msgID, msgType string, content map[string]interface{}) error {
	if c.IsClosed() {
		return fmt.Errorf("kernel channels closed")
	}

	msg := kernel.Message{
		Header: kernel.Header{
			MsgID:    msgID,
			MsgType:  msgType,
			Session:  c.session,
			Username: "helium",
			Date:     time.Now().UTC().Format(time.RFC3339),
			Version:  kernel.ProtocolVersion,
		},
		Content: content,
		Channel: channel,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(&msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// Execute sends an execute_request with the caller-supplied message id.
func (c *Client) Execute(msgID, code string) error {
	return c.send("shell", msgID, "execute_request", map[string]interface{}{
		"code":             code,
		"silent":           false,
		"store_history":    true,
		"user_expressions": map[string]interface{}{},
		"allow_stdin":      true,
		"stop_on_error":    true,
	})
}

// Complete sends a complete_request.
func (c *Client) Complete(msgID, code string, cursorPos int) error {
	return c.send("shell", msgID, "complete_request", map[string]interface{}{
		"code":       code,
		"cursor_pos": cursorPos,
	})
}

// Inspect sends an inspect_request.
func (c *Client) Inspect(msgID, code string, cursorPos, detailLevel int) error {
	return c.send("shell", msgID, "inspect_request", map[string]interface{}{
		"code":         code,
		"cursor_pos":   cursorPos,
		"detail_level": detailLevel,
	})
}

// SendInput answers a pending input_request on the stdin channel.
func (c *Client) SendInput(text string) error {
	msgID := fmt.Sprintf("input-%d", time.Now().UnixNano())
	return c.send("stdin", msgID, "input_reply", map[string]interface{}{
		"value": text,
	})
}

// Interrupt interrupts the kernel through the gateway control plane.
func (c *Client) Interrupt() error {
	return c.gateway.Interrupt(c.kernelID)
}

// PollShell returns the next shell reply, or kernel.ErrNoMessage on timeout.
func (c *Client) PollShell(timeout time.Duration) (*kernel.Message, error) {
	return poll(c.shell, timeout)
}

// PollIOPub returns the next broadcast notification, or kernel.ErrNoMessage.
func (c *Client) PollIOPub(timeout time.Duration) (*kernel.Message, error) {
	return poll(c.iopub, timeout)
}

// PollStdin returns the next input request, or kernel.ErrNoMessage.
func (c *Client) PollStdin(timeout time.Duration) (*kernel.Message, error) {
	return poll(c.stdin, timeout)
}

func poll(queue chan *kernel.Message, timeout time.Duration) (*kernel.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-queue:
		return msg, nil
	case <-timer.C:
		return nil, kernel.ErrNoMessage
	}
}
