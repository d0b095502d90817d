// Package model defines the domain types shared across the service.
package model

import (
	"time"
)

// SessionStatus is the lifecycle status of a kernel session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusDead    SessionStatus = "dead"
	SessionStatusFailed  SessionStatus = "failed"
)

// KernelSession is one editor-facing kernel connection record.
type KernelSession struct {
	// ID is the session id, which doubles as the gateway kernel id.
	ID string `json:"id"`

	// Name is the connection display name shown to users.
	Name string `json:"name"`

	// KernelName is the kernelspec the kernel was started from, e.g. python3.
	KernelName string `json:"kernelName"`

	// GatewayURL is the base URL of the gateway hosting the kernel.
	GatewayURL string `json:"gatewayUrl"`

	Status         SessionStatus `json:"status"`
	TranscriptPath string        `json:"transcriptPath"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Repr is the string representation of the connection: the display name, if
// set, followed by kernelspec and id.
func (s *KernelSession) Repr() string {
	base := "[" + s.KernelName + "] " + s.ID
	if s.Name != "" {
		return s.Name + " (" + base + ")"
	}
	return base
}

// Duration returns how long the session has existed.
func (s *KernelSession) Duration() time.Duration {
	return time.Since(s.CreatedAt)
}

// CreateSessionRequest is a request to start a kernel and connect to it.
type CreateSessionRequest struct {
	KernelName string `json:"kernelName" binding:"required"`
	Name       string `json:"name"`
}

// Validate validates the request.
func (r *CreateSessionRequest) Validate() error {
	if r.KernelName == "" {
		return ErrKernelNameRequired
	}
	return nil
}
