package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apiclient"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/metrics"
	"github.com/aetherfit/aetherfit-front/internal/navigate"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/session"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIdleTimeout is how long an unused instance is kept
	DefaultIdleTimeout = 24 * time.Hour

	// DefaultCleanupInterval is how often idle instances are looked for
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultMaxInstances bounds the number of live instances
	DefaultMaxInstances = 10000

	teardownTimeout = 10 * time.Second
)

var (
	// ErrTooManyInstances is returned when the instance limit is reached
	ErrTooManyInstances = errors.New("client instance limit exceeded")

	// ErrInstanceCreationFailed is returned when an instance cannot be started
	ErrInstanceCreationFailed = errors.New("failed to create client instance")

	// ErrShutdown is returned once the manager has shut down
	ErrShutdown = errors.New("client manager is shut down")
)

// Dependencies are shared by every instance a Manager creates.
type Dependencies struct {
	Authenticators *idp.Authenticators
	Storage        tokenstore.Storage
	API            apiclient.Config
	HTTPClient     *http.Client
	Metrics        *metrics.Collector
	QueueSize      int
}

// Manager owns the client instances, keyed by client id.
type Manager struct {
	deps Dependencies

	mu              sync.RWMutex
	instances       map[string]*Instance
	idleTimeout     time.Duration
	maxInstances    int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	closed          bool
	createInstance  func(id string) (*Instance, error)
	wg              sync.WaitGroup
	group           singleflight.Group
}

// ManagerOption configures the manager
type ManagerOption func(*Manager)

// WithIdleTimeout sets how long an unused instance is kept
func WithIdleTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.idleTimeout = timeout
	}
}

// WithMaxInstances sets the instance limit. 0 means unlimited.
func WithMaxInstances(max int) ManagerOption {
	return func(m *Manager) {
		m.maxInstances = max
	}
}

// WithCleanupInterval sets how often to run cleanup
func WithCleanupInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cleanupInterval = interval
	}
}

// WithInstanceCreator replaces instance construction (for testing)
func WithInstanceCreator(create func(id string) (*Instance, error)) ManagerOption {
	return func(m *Manager) {
		m.createInstance = create
	}
}

// NewManager creates a manager and starts its cleanup routine.
func NewManager(deps Dependencies, opts ...ManagerOption) *Manager {
	m := &Manager{
		deps:            deps,
		instances:       make(map[string]*Instance),
		idleTimeout:     DefaultIdleTimeout,
		maxInstances:    DefaultMaxInstances,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	m.createInstance = m.NewInstance

	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.startCleanupRoutine()

	return m
}

// NewInstance builds and starts an instance from the manager's
// dependencies without registering it.
func (m *Manager) NewInstance(id string) (*Instance, error) {
	if m.deps.Storage == nil || m.deps.Authenticators == nil {
		return nil, errors.New("client dependencies are incomplete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	auth := idp.NewAuth(m.deps.Authenticators)
	slot := tokenstore.NewSlot(m.deps.Storage, id)
	store := session.NewStore(auth, slot, id)
	queue := notify.NewQueue(m.deps.QueueSize)

	var opts []apiclient.Option
	if m.deps.HTTPClient != nil {
		opts = append(opts, apiclient.WithHTTPClient(m.deps.HTTPClient))
	}
	if m.deps.Metrics != nil {
		opts = append(opts, apiclient.WithMetrics(m.deps.Metrics))
	}
	api := apiclient.New(m.deps.API, slot, store, queue, navigate.Discard, opts...)

	now := time.Now()
	inst := &Instance{
		id:            id,
		auth:          auth,
		slot:          slot,
		store:         store,
		api:           api,
		notifications: queue,
		created:       now,
		ctx:           ctx,
		cancel:        cancel,
	}
	inst.touch(now)

	// the instance's own subscription, held for its whole life
	inst.unsubscribe = store.Subscribe(func(identity *idp.Identity) {
		fields := map[string]any{"client": id}
		if identity != nil {
			fields["uid"] = identity.ID
		}
		log.LogDebugWithFields("client", "Session changed", fields)
	})
	return inst, nil
}

// GetOrCreate returns the live instance for id, creating it if needed.
// Concurrent calls for the same id share one creation.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Instance, error) {
	v, err, _ := m.group.Do(id, func() (any, error) {
		m.mu.RLock()
		inst, ok := m.instances[id]
		closed := m.closed
		m.mu.RUnlock()

		if closed {
			return nil, ErrShutdown
		}

		if ok {
			if inst.alive() {
				inst.touch(time.Now())
				log.LogTraceWithFields("client_manager", "Reusing client instance", map[string]any{
					"client": id,
				})
				return inst, nil
			}
			log.LogTraceWithFields("client_manager", "Found stopped instance, will create new", map[string]any{
				"client": id,
			})
		}

		if err := m.checkLimit(); err != nil {
			return nil, err
		}

		return m.create(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

// Get returns the live instance for id.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	inst, ok := m.instances[id]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !inst.alive() {
		if err := m.Remove(id); err != nil {
			log.LogErrorWithFields("client_manager", "Failed to remove stopped instance", map[string]any{
				"client": id,
				"error":  err.Error(),
			})
		}
		return nil, false
	}
	inst.touch(time.Now())
	return inst, true
}

// Remove tears down the instance for id. Removing an unknown id is a no-op.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	remaining := len(m.instances)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.deps.Metrics.SetActiveClients(remaining)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := inst.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop client instance %s: %w", id, err)
	}

	log.LogInfoWithFields("client_manager", "Removed client instance", map[string]any{
		"client":    id,
		"lifetime":  time.Since(inst.created).String(),
		"remaining": remaining,
	})
	return nil
}

// Count returns the number of registered instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// IDs returns the ids of every registered instance.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops the cleanup routine and tears down every instance.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
	})
	m.wg.Wait()

	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Remove(id); err != nil {
			log.LogErrorWithFields("shutdown", "Failed to remove client instance during shutdown", map[string]any{
				"client": id,
				"error":  err.Error(),
			})
		}
	}
}

func (m *Manager) checkLimit() error {
	if m.maxInstances == 0 {
		return nil
	}
	count := m.Count()
	if count >= m.maxInstances {
		log.LogWarnWithFields("client_manager", "Client instance limit reached", map[string]any{
			"count": count,
			"limit": m.maxInstances,
		})
		return fmt.Errorf("%w: %d instances (limit: %d)", ErrTooManyInstances, count, m.maxInstances)
	}
	return nil
}

func (m *Manager) create(id string) (*Instance, error) {
	inst, err := m.createInstance(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstanceCreationFailed, err)
	}

	m.mu.Lock()
	old := m.instances[id]
	m.instances[id] = inst
	total := len(m.instances)
	m.mu.Unlock()

	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		_ = old.stop(ctx)
		cancel()
	}
	m.deps.Metrics.SetActiveClients(total)

	log.LogInfoWithFields("client_manager", "Created client instance", map[string]any{
		"client": id,
		"total":  total,
	})
	return inst, nil
}

func (m *Manager) startCleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupIdleInstances()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) cleanupIdleInstances() {
	now := time.Now()

	m.mu.RLock()
	idle := make([]string, 0)
	total := len(m.instances)
	for id, inst := range m.instances {
		if now.Sub(inst.LastAccessed()) > m.idleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	if total > 0 || len(idle) > 0 {
		log.LogTraceWithFields("client_manager", "Client cleanup cycle", map[string]any{
			"total":   total,
			"idle":    len(idle),
			"timeout": m.idleTimeout.String(),
		})
	}

	for _, id := range idle {
		log.LogInfoWithFields("client_manager", "Removing idle client instance", map[string]any{
			"client":  id,
			"timeout": m.idleTimeout.String(),
		})
		if err := m.Remove(id); err != nil {
			log.LogErrorWithFields("client_manager", "Failed to remove idle client instance", map[string]any{
				"client": id,
				"error":  err.Error(),
			})
		}
	}
}
