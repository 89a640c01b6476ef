// Package session establishes conversations with the session service.
//
// Every conversation runs under opaque credentials issued at session start;
// the ASR and generator adapters attach them to each request. The service
// can expire a session at any time, which surfaces as
// fault.KindSessionExpired and ends the conversation.
package session

import (
	"context"
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Consent records what the user agreed to when the session was created.
// The session service stores it alongside the session.
type Consent struct {
	// RecordAudio permits capturing microphone audio for transcription.
	RecordAudio bool `json:"record_audio"`

	// ArchiveTranscript permits persisting the conversation transcript.
	ArchiveTranscript bool `json:"archive_transcript"`
}

// Service issues and revokes conversation credentials.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// CreateSession establishes a new session and returns its credentials.
	CreateSession(ctx context.Context, consent Consent) (types.SessionCredentials, error)

	// EndSession revokes the credentials. Ending an already-expired
	// session is not an error.
	EndSession(ctx context.Context, creds types.SessionCredentials) error
}

// Mock is a scriptable in-memory Service for tests.
type Mock struct {
	mu sync.Mutex

	// Credentials is returned by CreateSession when CreateErr is nil.
	// Zero value yields deterministic test credentials.
	Credentials types.SessionCredentials

	// CreateErr, if non-nil, is returned by CreateSession.
	CreateErr error

	// EndErr, if non-nil, is returned by EndSession.
	EndErr error

	// CreateCalls counts CreateSession invocations.
	CreateCalls int

	// EndedWith records the credentials passed to EndSession, in order.
	EndedWith []types.SessionCredentials
}

// CreateSession implements Service.
func (m *Mock) CreateSession(_ context.Context, _ Consent) (types.SessionCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateErr != nil {
		return types.SessionCredentials{}, m.CreateErr
	}
	creds := m.Credentials
	if creds.ID == "" {
		creds = types.SessionCredentials{ID: "mock-session", Secret: "mock-secret"}
	}
	return creds, nil
}

// EndSession implements Service.
func (m *Mock) EndSession(_ context.Context, creds types.SessionCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndedWith = append(m.EndedWith, creds)
	return m.EndErr
}

// Ensure Mock implements Service at compile time.
var _ Service = (*Mock)(nil)
