package mockidp

import (
	"context"
	"sync"
	"time"

	"github.com/wrale/device-flow-session/internal/validation"
)

// Retention keeps authorizations around after expiry so a late poll can still
// be answered with expired_token rather than invalid_grant.
const Retention = 15 * time.Minute

// Registry stores issued device authorizations
type Registry interface {
	// Save stores a new authorization
	Save(ctx context.Context, auth *Authorization) error

	// Get returns the authorization for a device code, or nil when unknown
	Get(ctx context.Context, deviceCode string) (*Authorization, error)

	// GetByUserCode returns the authorization for a user code, or nil when unknown
	GetByUserCode(ctx context.Context, userCode string) (*Authorization, error)

	// Transition moves an authorization from one status to another.
	// It reports false when the code is unknown or not in the from status.
	Transition(ctx context.Context, deviceCode string, from, to Status) (bool, error)

	// RecordPoll stores the time of a token poll and returns the previous one
	RecordPoll(ctx context.Context, deviceCode string, at time.Time) (time.Time, error)

	// Delete removes an authorization; unknown codes are ignored
	Delete(ctx context.Context, deviceCode string) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// MemoryRegistry implements Registry in process memory
type MemoryRegistry struct {
	mu        sync.Mutex
	codes     map[string]*Authorization
	userCodes map[string]string
	polls     map[string]time.Time
}

// NewMemoryRegistry creates an in-memory registry. Entries past their retention
// are collected until ctx is done.
func NewMemoryRegistry(ctx context.Context) *MemoryRegistry {
	r := &MemoryRegistry{
		codes:     make(map[string]*Authorization),
		userCodes: make(map[string]string),
		polls:     make(map[string]time.Time),
	}
	go r.collect(ctx)

	return r
}

func (r *MemoryRegistry) Save(_ context.Context, auth *Authorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *auth
	r.codes[auth.DeviceCode] = &stored
	r.userCodes[validation.NormalizeCode(auth.UserCode)] = auth.DeviceCode
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, deviceCode string) (*Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getLocked(deviceCode), nil
}

func (r *MemoryRegistry) GetByUserCode(_ context.Context, userCode string) (*Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceCode, ok := r.userCodes[validation.NormalizeCode(userCode)]
	if !ok {
		return nil, nil
	}
	return r.getLocked(deviceCode), nil
}

func (r *MemoryRegistry) Transition(_ context.Context, deviceCode string, from, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.codes[deviceCode]
	if !ok || auth.Status != from {
		return false, nil
	}
	auth.Status = to
	return true, nil
}

func (r *MemoryRegistry) RecordPoll(_ context.Context, deviceCode string, at time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.polls[deviceCode]
	r.polls[deviceCode] = at
	return prev, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, deviceCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteLocked(deviceCode)
	return nil
}

func (r *MemoryRegistry) CheckHealth(context.Context) error {
	return nil
}

func (r *MemoryRegistry) getLocked(deviceCode string) *Authorization {
	auth, ok := r.codes[deviceCode]
	if !ok {
		return nil
	}
	found := *auth
	return &found
}

func (r *MemoryRegistry) deleteLocked(deviceCode string) {
	auth, ok := r.codes[deviceCode]
	if !ok {
		return
	}
	delete(r.codes, deviceCode)
	delete(r.userCodes, validation.NormalizeCode(auth.UserCode))
	delete(r.polls, deviceCode)
}

func (r *MemoryRegistry) collect(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for code, auth := range r.codes {
				if now.After(auth.ExpiresAt.Add(Retention)) {
					r.deleteLocked(code)
				}
			}
			r.mu.Unlock()
		}
	}
}
