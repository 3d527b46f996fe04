package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	mutex   sync.RWMutex
	started bool

	listeners []func(LifecycleEvent)

	// timeout for each Start and Stop call
	timeout time.Duration

	log *slog.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(log *slog.Logger) *DefaultLifecycleManager {
	if log == nil {
		log = slog.Default()
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      30 * time.Second,
		log:          log.With(slog.String("component", "lifecycle")),
	}
}

// Register registers a service under its name
func (lm *DefaultLifecycleManager) Register(service Service, deps ...string) error {
	if service == nil {
		return errors.New("service cannot be nil")
	}
	name := service.Name()
	if name == "" {
		return errors.New("service name cannot be empty")
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	lm.services[name] = service
	lm.dependencies[name] = append([]string(nil), deps...)
	lm.broadcast(EventServiceRegistered, name, nil)
	return nil
}

// Start starts all services in dependency order. If one fails, the ones
// already started are stopped again.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return errors.New("lifecycle manager already started")
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}
	lm.log.Debug("starting services", slog.Any("order", order))

	for _, name := range order {
		lm.broadcast(EventServiceStarting, name, nil)

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcast(EventServiceStartFailed, name, err)
			lm.stopStarted(ctx)
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}
		lm.startOrder = append(lm.startOrder, name)
		lm.broadcast(EventServiceStarted, name, nil)
	}

	lm.started = true
	return nil
}

// Stop stops all started services in reverse start order
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started {
		return nil
	}
	err := lm.stopStarted(ctx)
	lm.started = false
	return err
}

// stopStarted stops every service in startOrder, last first. Caller holds the lock.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		lm.broadcast(EventServiceStopping, name, nil)

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			lm.broadcast(EventServiceStopFailed, name, err)
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			continue
		}
		lm.broadcast(EventServiceStopped, name, nil)
	}
	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddListener adds a lifecycle event listener. Listeners run synchronously
// and must not call back into the manager.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout sets the timeout for service operations
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()
	return lm.started
}

// calculateStartOrder sorts services topologically (Kahn), breaking ties by name.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for name := range lm.services {
		inDegree[name] = 0
	}
	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("dependency %s of service %s is not registered", dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		next := dependents[current]
		sort.Strings(next)
		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(lm.services) {
		return nil, errors.New("circular dependency detected")
	}
	return order, nil
}

// broadcast logs an event and hands it to every listener. Caller holds the lock.
func (lm *DefaultLifecycleManager) broadcast(typ, service string, err error) {
	event := LifecycleEvent{Type: typ, Service: service, Timestamp: time.Now(), Error: err}
	if err != nil {
		lm.log.Error(typ, slog.String("service", service), slog.Any("error", err))
	} else {
		lm.log.Debug(typ, slog.String("service", service))
	}

	for _, listener := range lm.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lm.log.Error("lifecycle listener panicked", slog.Any("panic", r))
				}
			}()
			listener(event)
		}()
	}
}
