package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/browserbase/functions/internal/domain"
)

// Local is an offline session provider for development without Browserbase
// credentials. It fabricates session ids pointing at a locally running
// browser's devtools endpoint; it never talks to the network.
type Local struct{}

// NewLocal creates the offline provider.
func NewLocal() *Local { return &Local{} }

// Create fabricates a session. The sessionConfig is accepted and ignored.
func (l *Local) Create(_ context.Context, _ map[string]any) (*domain.Session, error) {
	id := uuid.NewString()
	return &domain.Session{
		ID:         id,
		ConnectURL: fmt.Sprintf("ws://127.0.0.1:9222/devtools/browser/%s", id),
	}, nil
}

// Release is a no-op for fabricated sessions.
func (l *Local) Release(_ context.Context, _ string) error { return nil }
