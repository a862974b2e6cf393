// Package transform compiles and runs administrator-supplied payload
// transformations.
//
// Transformations are CEL expressions over a single implicit `payload`
// variable holding a JSON-like value (object, array, string, number,
// boolean, or null) and returning a value of the same family. CEL is
// deliberately not a general-purpose scripting runtime: programs cannot
// reach the file system, the network, other routes' data, or any ambient
// process state, and evaluation is interruptible, so a wall-clock budget
// bounds every run. That is the trust boundary for admin-supplied code.
package transform

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// Direction selects which of a route's two transformations applies.
type Direction string

const (
	// DirectionRequest transforms the request body before forwarding.
	DirectionRequest Direction = "request"

	// DirectionResponse transforms the upstream response body.
	DirectionResponse Direction = "response"
)

// payloadVar is the implicit input variable available to expressions.
const payloadVar = "payload"

// interruptCheckFrequency is how many eval steps pass between context
// cancellation checks. Low enough that the time budget is honored within
// a few milliseconds even for tight loops over large payloads.
const interruptCheckFrequency = 100

// DefaultBudget is the wall-clock evaluation budget when none is configured.
const DefaultBudget = time.Second

// compiledProgram is a memoized compilation result keyed by route version.
type compiledProgram struct {
	version int64
	program cel.Program
}

// Engine compiles and caches transformation expressions per
// (routeID, direction) and evaluates them under a time budget.
type Engine struct {
	env    *cel.Env
	logger observability.Logger
	budget time.Duration

	mu       sync.RWMutex
	programs map[string]*compiledProgram
}

// EngineOption is a functional option for the engine.
type EngineOption func(*Engine)

// WithBudget sets the wall-clock evaluation budget.
func WithBudget(budget time.Duration) EngineOption {
	return func(e *Engine) {
		e.budget = budget
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a transformation engine.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(payloadVar, cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}

	e := &Engine{
		env:      env,
		logger:   observability.NopLogger(),
		budget:   DefaultBudget,
		programs: make(map[string]*compiledProgram),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compile compiles the source for (routeID, direction), memoized by the
// route version. A version bump recompiles; older entries are replaced.
func (e *Engine) Compile(routeID string, direction Direction, source string, version int64) (cel.Program, error) {
	key := programKey(routeID, direction)

	e.mu.RLock()
	entry, ok := e.programs[key]
	e.mu.RUnlock()
	if ok && entry.version == version {
		return entry.program, nil
	}

	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, util.NewTransformError(routeID, string(direction), "compile failed", issues.Err())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(interruptCheckFrequency))
	if err != nil {
		return nil, util.NewTransformError(routeID, string(direction), "program construction failed", err)
	}

	e.mu.Lock()
	e.programs[key] = &compiledProgram{version: version, program: program}
	e.mu.Unlock()

	e.logger.Debug("compiled transformation",
		observability.String("route_id", routeID),
		observability.String("direction", string(direction)),
		observability.Int64("version", version))

	return program, nil
}

// Run evaluates a compiled program against the payload under the engine's
// time budget. Budget overruns and evaluation failures are TransformError;
// overruns additionally match ErrTimeout.
func (e *Engine) Run(ctx context.Context, routeID string, direction Direction, program cel.Program, payload interface{}) (interface{}, error) {
	budget := e.evalBudget()
	evalCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	out, _, err := program.ContextEval(evalCtx, map[string]interface{}{
		payloadVar: payload,
	})
	if err != nil {
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, util.NewTransformError(routeID, string(direction),
				"time budget exceeded", util.NewTimeoutError("transformation", budget))
		}
		return nil, util.NewTransformError(routeID, string(direction), "evaluation failed", err)
	}

	result, err := nativeValue(out)
	if err != nil {
		return nil, util.NewTransformError(routeID, string(direction), "result not a JSON value", err)
	}
	return result, nil
}

// SetBudget replaces the evaluation budget. Called on configuration hot
// reload; safe for concurrent use with Run.
func (e *Engine) SetBudget(budget time.Duration) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	e.mu.Lock()
	e.budget = budget
	e.mu.Unlock()
}

// evalBudget returns the current evaluation budget.
func (e *Engine) evalBudget() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.budget
}

// Apply compiles (memoized) and runs the transformation in one step.
func (e *Engine) Apply(ctx context.Context, routeID string, direction Direction, source string, version int64, payload interface{}) (interface{}, error) {
	program, err := e.Compile(routeID, direction, source, version)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, routeID, direction, program, payload)
}

// InvalidateRoute drops the compiled programs for both directions of a
// route. Implements the route change listener used by the reloader.
func (e *Engine) InvalidateRoute(routeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.programs, programKey(routeID, DirectionRequest))
	delete(e.programs, programKey(routeID, DirectionResponse))
}

// Len returns the number of memoized programs.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.programs)
}

// programKey builds the memoization key.
func programKey(routeID string, direction Direction) string {
	return routeID + "/" + string(direction)
}

// nativeValue converts a CEL result into the JSON value family via
// structpb, which rejects anything that does not round-trip as JSON.
func nativeValue(v ref.Val) (interface{}, error) {
	converted, err := v.ConvertToNative(reflect.TypeOf(&structpb.Value{}))
	if err != nil {
		return nil, err
	}
	return converted.(*structpb.Value).AsInterface(), nil
}
