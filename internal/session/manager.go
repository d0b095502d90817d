// Package session manages the lifecycle of kernel sessions: starting kernels
// through the gateway, wiring connections to attached editors, and tearing
// everything down again.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sschuhmann/Helium/internal/buffer"
	"github.com/sschuhmann/Helium/internal/gateway"
	"github.com/sschuhmann/Helium/internal/kernel"
	"github.com/sschuhmann/Helium/internal/logger"
	"github.com/sschuhmann/Helium/internal/model"
	"github.com/sschuhmann/Helium/internal/repository"
	"github.com/sschuhmann/Helium/internal/ws"
)

const (
	// DefaultMaxSessions bounds concurrently running kernels.
	DefaultMaxSessions = 10

	// DefaultHistorySize is the per-session output history buffer capacity.
	DefaultHistorySize = 256 * 1024

	// statusPollInterval is how often the watcher samples the execution state
	// for broadcast and transcript recording.
	statusPollInterval = 250 * time.Millisecond
)

// Options configures a Manager.
type Options struct {
	GatewayURL    string
	TranscriptDir string
	MaxSessions   int
	HistorySize   int
	InlineOutput  bool
}

// liveSession bundles everything owned by one running kernel session.
type liveSession struct {
	session    *model.KernelSession
	client     *gateway.Client
	conn       *kernel.Connection
	history    *buffer.HistoryBuffer
	transcript *logger.TranscriptLogger

	stopWatch chan struct{}
	watchDone chan struct{}
}

// Manager owns all live kernel sessions.
type Manager struct {
	gw         *gateway.Gateway
	repo       *repository.KernelSessionRepository
	hubManager *ws.HubManager
	wsHandler  *ws.Handler
	opts       Options

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// NewManager creates a session manager.
func NewManager(gw *gateway.Gateway, repo *repository.KernelSessionRepository, hubManager *ws.HubManager, wsHandler *ws.Handler, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &Manager{
		gw:         gw,
		repo:       repo,
		hubManager: hubManager,
		wsHandler:  wsHandler,
		opts:       opts,
		sessions:   make(map[string]*liveSession),
	}
}

// Create starts a kernel on the gateway, connects to its channels and begins
// dispatching its output to attached editors.
func (m *Manager) Create(ctx context.Context, req *model.CreateSessionRequest) (*model.KernelSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, model.ErrConcurrencyLimit
	}
	m.mu.Unlock()

	info, err := m.gw.StartKernel(req.KernelName)
	if err != nil {
		return nil, fmt.Errorf("failed to start kernel: %w", err)
	}

	now := time.Now()
	sess := &model.KernelSession{
		ID:         info.ID,
		Name:       req.Name,
		KernelName: req.KernelName,
		GatewayURL: m.gw.BaseURL(),
		Status:     model.SessionStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var transcript *logger.TranscriptLogger
	if m.opts.TranscriptDir != "" {
		if err := os.MkdirAll(m.opts.TranscriptDir, 0o755); err != nil {
			log.Printf("failed to create transcript dir: %v", err)
		} else {
			path := filepath.Join(m.opts.TranscriptDir, sess.ID+".jsonl")
			transcript, err = logger.NewTranscriptLogger(path)
			if err != nil {
				log.Printf("failed to create transcript: %v", err)
			} else {
				sess.TranscriptPath = path
				if err := transcript.WriteHeader(req.KernelName); err != nil {
					log.Printf("failed to write transcript header: %v", err)
				}
			}
		}
	}

	if err := m.repo.Create(ctx, sess); err != nil {
		m.gw.Shutdown(info.ID)
		if transcript != nil {
			transcript.Close()
		}
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	client, err := m.gw.Connect(info.ID)
	if err != nil {
		m.repo.UpdateStatus(ctx, sess.ID, model.SessionStatusFailed)
		m.gw.Shutdown(info.ID)
		if transcript != nil {
			transcript.Close()
		}
		return nil, fmt.Errorf("failed to connect kernel channels: %w", err)
	}

	hub := m.hubManager.GetOrCreate(sess.ID)
	history := buffer.NewHistoryBuffer(m.opts.HistorySize)
	renderer := ws.NewHubRenderer(hub, history, transcript)
	prompter := ws.NewHubPrompter(hub)
	m.wsHandler.AttachSession(sess.ID, prompter, history)

	conn := kernel.NewConnection(client, renderer, prompter, kernel.Config{
		Name:         sess.Repr(),
		InlineOutput: m.opts.InlineOutput,
	})

	live := &liveSession{
		session:    sess,
		client:     client,
		conn:       conn,
		history:    history,
		transcript: transcript,
		stopWatch:  make(chan struct{}),
		watchDone:  make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = live
	m.mu.Unlock()

	go m.watchStatus(live)

	log.Printf("kernel session %s started", sess.Repr())
	snapshot := *sess
	return &snapshot, nil
}

// watchStatus samples the execution state and pushes changes to attached
// editors and the transcript.
func (m *Manager) watchStatus(live *liveSession) {
	defer close(live.watchDone)

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	last := kernel.ExecStateUnknown
	for {
		select {
		case <-live.stopWatch:
			return
		case <-ticker.C:
			state := live.conn.ExecutionState()
			if state == last {
				continue
			}
			last = state
			m.wsHandler.BroadcastStatus(live.session.ID, string(state))
			if live.transcript != nil {
				if err := live.transcript.WriteStatus(string(state)); err != nil {
					log.Printf("transcript status write failed: %v", err)
				}
			}
		}
	}
}

func (m *Manager) live(id string) (*liveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live, ok := m.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return live, nil
}

// Get returns the session record, preferring the live view over the
// database. Returns a snapshot; the live record is mutated under the manager
// lock (Rename) and must not escape it.
func (m *Manager) Get(ctx context.Context, id string) (*model.KernelSession, error) {
	m.mu.RLock()
	live, ok := m.sessions[id]
	var snapshot model.KernelSession
	if ok {
		snapshot = *live.session
	}
	m.mu.RUnlock()

	if ok {
		return &snapshot, nil
	}
	return m.repo.GetByID(ctx, id)
}

// List returns all session records, live and past.
func (m *Manager) List(ctx context.Context) ([]*model.KernelSession, error) {
	return m.repo.List(ctx)
}

// Execute sends code to the session's kernel. Output comes back asynchronously
// through the attached editors.
func (m *Manager) Execute(id, code string, target kernel.OutputTarget) (string, error) {
	live, err := m.live(id)
	if err != nil {
		return "", err
	}
	if live.transcript != nil {
		if err := live.transcript.WriteInput(code); err != nil {
			log.Printf("transcript input write failed: %v", err)
		}
	}
	return live.conn.Execute(code, target)
}

// Complete returns completion candidates for code at cursorPos.
func (m *Manager) Complete(id, code string, cursorPos int, timeout time.Duration) ([]kernel.Completion, error) {
	live, err := m.live(id)
	if err != nil {
		return nil, err
	}
	return live.conn.Complete(code, cursorPos, timeout), nil
}

// Inspect requests object inspection; the result lands in the inspection
// panel of the attached editors.
func (m *Manager) Inspect(id, code string, cursorPos, detailLevel int, timeout time.Duration) error {
	live, err := m.live(id)
	if err != nil {
		return err
	}
	live.conn.Inspect(code, cursorPos, detailLevel, timeout)
	return nil
}

// ExecutionState returns the kernel's last reported execution state.
func (m *Manager) ExecutionState(id string) (kernel.ExecState, error) {
	live, err := m.live(id)
	if err != nil {
		return kernel.ExecStateUnknown, err
	}
	return live.conn.ExecutionState(), nil
}

// Alive reports whether the kernel connection is still live.
func (m *Manager) Alive(id string) (bool, error) {
	live, err := m.live(id)
	if err != nil {
		return false, err
	}
	return live.conn.Alive(), nil
}

// Interrupt interrupts the session's kernel.
func (m *Manager) Interrupt(id string) error {
	live, err := m.live(id)
	if err != nil {
		return err
	}
	return m.gw.Interrupt(live.session.ID)
}

// Restart restarts the session's kernel in place. Channel state survives a
// gateway restart, so the existing connection keeps running.
func (m *Manager) Restart(id string) error {
	live, err := m.live(id)
	if err != nil {
		return err
	}
	return m.gw.Restart(live.session.ID)
}

// Rename updates the session display name.
func (m *Manager) Rename(ctx context.Context, id, name string) error {
	if err := m.repo.Rename(ctx, id, name); err != nil {
		return err
	}

	m.mu.Lock()
	if live, ok := m.sessions[id]; ok {
		live.session.Name = name
		live.session.UpdatedAt = time.Now()
		live.conn.SetName(live.session.Repr())
	}
	m.mu.Unlock()
	return nil
}

// History returns the buffered output of the session.
func (m *Manager) History(id string) ([]byte, error) {
	live, err := m.live(id)
	if err != nil {
		return nil, err
	}
	return live.history.Snapshot(), nil
}

// Delete tears a session down: stops the connection loops, closes the
// channels socket, shuts the kernel down and removes the record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	live, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		// Not live; the record may still exist from a previous run.
		return m.repo.Delete(ctx, id)
	}

	m.teardown(live)

	if err := m.gw.Shutdown(id); err != nil {
		log.Printf("kernel shutdown failed: %v", err)
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}

	log.Printf("kernel session %s deleted", live.session.Repr())
	return nil
}

// teardown stops the per-session machinery without touching the gateway or
// the database.
func (m *Manager) teardown(live *liveSession) {
	close(live.stopWatch)
	<-live.watchDone

	live.conn.Shutdown()
	if err := live.client.Close(); err != nil {
		log.Printf("channels close failed: %v", err)
	}
	if live.transcript != nil {
		if err := live.transcript.Close(); err != nil {
			log.Printf("transcript close failed: %v", err)
		}
	}
	m.wsHandler.DetachSession(live.session.ID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears down all live sessions, marking them dead rather than deleting
// their records.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	all := make([]*liveSession, 0, len(m.sessions))
	for _, live := range m.sessions {
		all = append(all, live)
	}
	m.sessions = make(map[string]*liveSession)
	m.mu.Unlock()

	for _, live := range all {
		m.teardown(live)
		if err := m.gw.Shutdown(live.session.ID); err != nil {
			log.Printf("kernel shutdown failed: %v", err)
		}
		if err := m.repo.UpdateStatus(ctx, live.session.ID, model.SessionStatusDead); err != nil {
			log.Printf("failed to mark session dead: %v", err)
		}
	}
}
