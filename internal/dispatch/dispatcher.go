// Package dispatch turns one tool invocation into exactly one response:
// a handler result or a structured error, never both and never neither.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/standardbeagle/climcp/internal/logging"
	"github.com/standardbeagle/climcp/internal/tools"
	"github.com/standardbeagle/climcp/pkg/events"
)

// State is where an invocation is in its lifecycle.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateRejected  State = "rejected"
)

// Request is one decoded invocation.
type Request struct {
	Tool      string
	Arguments map[string]interface{}
}

// Response carries Result when State is completed without error, Error
// otherwise. Err holds the typed error behind Error.
type Response struct {
	ID       string        `json:"id"`
	Tool     string        `json:"tool"`
	State    State         `json:"state"`
	Result   interface{}   `json:"result,omitempty"`
	Error    *ErrorPayload `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
	Err      error         `json:"-"`
}

// OK reports whether the invocation produced a result.
func (r Response) OK() bool {
	return r.Error == nil
}

type Options struct {
	Bus    *events.EventBus
	Logger *zap.Logger
}

// Dispatcher validates requests against the registry and runs handlers.
// It keeps no state between requests.
type Dispatcher struct {
	registry *tools.Registry
	bus      *events.EventBus
	logger   *zap.Logger
}

func New(registry *tools.Registry, opts Options) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Registry returns the tool table the dispatcher serves.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	inv := &invocation{
		resp:  Response{ID: uuid.NewString(), Tool: req.Tool, State: StateReceived},
		start: time.Now(),
	}
	log := d.logger.With(zap.String("invocation", inv.resp.ID), zap.String("tool", req.Tool))
	d.publish(events.InvocationReceived, inv, nil)

	entry, ok := d.registry.Lookup(req.Tool)
	if !ok {
		return d.reject(inv, log, &RequestError{
			Code:   CodeUnknownTool,
			Tool:   req.Tool,
			Reason: "no such tool",
		})
	}
	if reqErr := validate(entry.Spec, req.Arguments); reqErr != nil {
		return d.reject(inv, log, reqErr)
	}
	inv.advance(StateValidated)

	inv.advance(StateExecuting)
	ctx = WithInvocationID(ctx, inv.resp.ID)
	result, err := d.call(ctx, entry, req.Arguments)

	var reqErr *RequestError
	switch {
	case err == nil && result == nil:
		err = errors.New("tool returned no result")
		inv.fail(&RequestError{Code: CodeInternal, Tool: req.Tool, Reason: err.Error()}, err)
	case errors.As(err, &reqErr):
		if reqErr.Tool == "" {
			reqErr.Tool = req.Tool
		}
		inv.fail(reqErr, err)
	case err != nil:
		inv.fail(&RequestError{Code: CodeInternal, Tool: req.Tool, Reason: err.Error()}, err)
	default:
		inv.resp.Result = result
	}
	inv.advance(StateCompleted)
	inv.resp.Duration = time.Since(inv.start)

	if inv.resp.Error != nil {
		log.Warn("invocation failed",
			zap.String("code", string(inv.resp.Error.Code)),
			zap.Error(inv.resp.Err))
	} else {
		log.Info("invocation completed", zap.Duration("duration", inv.resp.Duration))
	}
	d.publish(events.InvocationCompleted, inv, map[string]interface{}{
		"result": inv.resp.Result,
	})
	return inv.resp
}

// call runs the handler once; a panic becomes an error.
func (d *Dispatcher) call(ctx context.Context, entry tools.Entry, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %q panicked: %v", entry.Spec.Name, r)
		}
	}()
	if args == nil {
		args = map[string]interface{}{}
	}
	return entry.Handler.Handle(ctx, args)
}

func (d *Dispatcher) reject(inv *invocation, log *zap.Logger, err *RequestError) Response {
	inv.fail(err, err)
	inv.advance(StateRejected)
	inv.resp.Duration = time.Since(inv.start)
	log.Info("invocation rejected", zap.String("reason", err.Error()))
	d.publish(events.InvocationRejected, inv, nil)
	return inv.resp
}

func (d *Dispatcher) publish(t events.EventType, inv *invocation, extra map[string]interface{}) {
	if d.bus == nil {
		return
	}
	data := map[string]interface{}{
		"tool":        inv.resp.Tool,
		"state":       string(inv.resp.State),
		"duration_ms": inv.resp.Duration.Milliseconds(),
	}
	if inv.resp.Error != nil {
		data["error"] = *inv.resp.Error
	}
	for k, v := range extra {
		data[k] = v
	}
	d.bus.Publish(events.Event{Type: t, InvocationID: inv.resp.ID, Data: data})
}

type invocation struct {
	resp  Response
	start time.Time
}

var transitions = map[State][]State{
	StateReceived:  {StateValidated, StateRejected},
	StateValidated: {StateExecuting},
	StateExecuting: {StateCompleted},
}

// advance moves to next, panicking on an edge the lifecycle does not have.
func (inv *invocation) advance(next State) {
	for _, allowed := range transitions[inv.resp.State] {
		if allowed == next {
			inv.resp.State = next
			return
		}
	}
	panic(fmt.Sprintf("dispatch: invalid transition %s -> %s", inv.resp.State, next))
}

func (inv *invocation) fail(payload *RequestError, err error) {
	inv.resp.Result = nil
	inv.resp.Error = payloadFor(payload)
	inv.resp.Err = err
}

type invocationKey struct{}

// WithInvocationID tags ctx with the id of the invocation being handled.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the id set by the dispatcher, or "".
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}
