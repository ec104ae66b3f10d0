// Package service supervises the long-lived components each SentinelCam
// binary registers at startup — the ingest dispatcher, the CSV writer, the
// datapump's purge worker, the job-manager driver, a task engine's job
// loop. The Manager starts them together, tracks their status for the
// health endpoints, and unwinds them in reverse registration order on
// shutdown.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/logger"
)

// Service is one supervised component. Start must not block: components
// with a run loop wrap it in a Runner, which spawns the loop and lets
// Stop cancel and wait for it.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents additionally receives the manager's event bus at
// registration, for components that publish lifecycle events of their own.
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// Manager owns every registered Service and its status record.
type Manager struct {
	log      *logger.Logger
	eventBus *EventBus

	mu       sync.RWMutex
	order    []string // registration order; shutdown walks it backwards
	services map[string]Service
	statuses map[string]*ServiceStatus
	wg       sync.WaitGroup
}

// NewManager creates an empty Manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		log:      log,
		eventBus: NewEventBus(100),
		services: make(map[string]Service),
		statuses: make(map[string]*ServiceStatus),
	}
}

// GetEventBus returns the bus services use for lifecycle events.
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds svc to the supervised set. Services start in registration
// order and stop in reverse, so dependencies (the CSV writer before the
// dispatcher that feeds it) register first.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := svc.Name()
	m.order = append(m.order, name)
	m.services[name] = svc
	m.statuses[name] = NewServiceStatus(name)

	if withEvents, ok := svc.(ServiceWithEvents); ok {
		withEvents.SetEventBus(m.eventBus)
	}
}

// Start launches every registered service. A service that fails to start
// is recorded in its status and on the event bus but does not abort the
// others — a camwatcher whose scheduler feed is down still ingests.
func (m *Manager) Start(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info("Starting services", "count", len(m.order))
	m.watchEvents(ctx)

	for _, name := range m.order {
		m.launch(ctx, m.services[name], m.statuses[name])
	}
	return nil
}

func (m *Manager) launch(ctx context.Context, svc Service, status *ServiceStatus) {
	status.SetStatus(StatusStarting)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.eventBus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.log.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.eventBus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})
			return
		}

		status.SetStatus(StatusRunning)
		m.log.Info("Service started", "service", svc.Name())
	}()
}

// watchEvents drains the bus at debug level until ctx is canceled.
func (m *Manager) watchEvents(ctx context.Context) {
	ch := m.eventBus.SubscribeAll()
	go func() {
		defer m.eventBus.Unsubscribe(EventTypeServiceStarted, ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.log.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
					"timestamp", event.Timestamp,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops every service in reverse registration order, bounded by
// ctx. Per-service stop errors are recorded but don't halt the walk; only
// running out the caller's deadline fails the shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info("Shutting down services", "count", len(m.order))
	defer m.eventBus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(m.order) - 1; i >= 0; i-- {
			m.stopService(ctx, m.order[i])
		}
		m.wg.Wait()
	}()

	select {
	case <-done:
		m.log.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) stopService(ctx context.Context, name string) {
	svc := m.services[name]
	status := m.statuses[name]
	if svc == nil {
		return
	}

	status.SetStatus(StatusStopping)
	m.log.Info("Stopping service", "service", name)

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		status.SetError(err)
		m.log.Error("Error stopping service", "service", name, "error", err)
	} else {
		status.SetStatus(StatusStopped)
		m.log.Info("Service stopped", "service", name)
	}

	m.eventBus.Publish(Event{
		Type:   EventTypeServiceStopped,
		Source: "manager",
		Data:   map[string]interface{}{"service": name},
	})
}

// GetServiceCount returns the number of registered services.
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// GetServiceStatus returns one service's status record, or nil if the
// name was never registered.
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns a snapshot of every service's status record.
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
