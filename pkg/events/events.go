package events

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	InvocationReceived  EventType = "invocation.received"
	InvocationRejected  EventType = "invocation.rejected"
	InvocationCompleted EventType = "invocation.completed"
	ShellResolved       EventType = "shell.resolved"
	ProcessStarted      EventType = "process.started"
	ProcessExited       EventType = "process.exited"
	ProcessTimedOut     EventType = "process.timeout"
)

type Event struct {
	ID           string
	Type         EventType
	InvocationID string
	Timestamp    time.Time
	Data         map[string]interface{}
}

type Handler func(event Event)

// WorkerPoolConfig holds configuration for the event bus worker pool
type WorkerPoolConfig struct {
	WorkerCount int // Number of worker goroutines (default: CPU cores, at least 2)
	BufferSize  int // Channel buffer size (default: 256)
	Logger      *zap.Logger
}

// DefaultWorkerPoolConfig returns the default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return WorkerPoolConfig{
		WorkerCount: workers,
		BufferSize:  256,
	}
}

type eventTask struct {
	event   Event
	handler Handler
}

// EventBus fans events out to subscribers on a fixed pool of workers.
// Handlers never run on the publisher's goroutine.
type EventBus struct {
	handlers   map[EventType][]Handler
	mu         sync.RWMutex
	workerPool chan eventTask
	closed     bool
	wg         sync.WaitGroup
	inflight   sync.WaitGroup
	sending    sync.WaitGroup
	logger     *zap.Logger
	config     WorkerPoolConfig
}

func NewEventBus() *EventBus {
	return NewEventBusWithConfig(DefaultWorkerPoolConfig())
}

func NewEventBusWithConfig(config WorkerPoolConfig) *EventBus {
	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	eb := &EventBus{
		handlers:   make(map[EventType][]Handler),
		workerPool: make(chan eventTask, config.BufferSize),
		logger:     logger,
		config:     config,
	}

	for i := 0; i < config.WorkerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker processes events until the pool is closed and drained
func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for task := range eb.workerPool {
		eb.run(task)
	}
}

func (eb *EventBus) run(task eventTask) {
	defer eb.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic",
				zap.String("event", string(task.event.Type)),
				zap.Any("panic", r))
		}
	}()
	task.handler(task.event)
}

func (eb *EventBus) Subscribe(eventType EventType, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish stamps the event and queues it for every subscriber of its type.
// Events published after Shutdown are dropped. The send happens outside the
// bus lock, so a handler may publish; it blocks only while the pool is full.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	event.Timestamp = time.Now()
	event.ID = uuid.NewString()

	eb.mu.RLock()
	if eb.closed {
		eb.mu.RUnlock()
		return
	}
	handlers := append([]Handler(nil), eb.handlers[event.Type]...)
	eb.inflight.Add(len(handlers))
	eb.sending.Add(1)
	eb.mu.RUnlock()
	defer eb.sending.Done()

	for _, handler := range handlers {
		eb.workerPool <- eventTask{event: event, handler: handler}
	}
}

// Drain blocks until every event queued so far has been handled.
func (eb *EventBus) Drain() {
	eb.inflight.Wait()
}

// Shutdown stops accepting events, runs the queued ones and stops the workers.
func (eb *EventBus) Shutdown() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	eb.mu.Unlock()

	// Workers keep running until every admitted publish has been queued.
	eb.sending.Wait()
	close(eb.workerPool)
	eb.wg.Wait()
}
