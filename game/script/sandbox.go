// Package script evaluates operator-supplied JavaScript (wave sizing
// formulas) on a small pool of locked-down goja runtimes.
package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	// ErrTimeout is returned when a script runs past the sandbox time limit.
	ErrTimeout = errors.New("script: execution timed out")
	// ErrPanic is returned when the runtime panics while evaluating a script.
	ErrPanic = errors.New("script: runtime panic")
)

// Bindings are the globals visible to one evaluation.
type Bindings map[string]any

// hidden globals are replaced with undefined in every runtime.
var hidden = []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"}

// mathFuncs is the whole Math object scripts see. random is constant so
// formulas stay reproducible.
var mathFuncs = map[string]any{
	"floor":  math.Floor,
	"ceil":   math.Ceil,
	"round":  func(v float64) float64 { return math.Floor(v + 0.5) },
	"abs":    math.Abs,
	"sqrt":   math.Sqrt,
	"pow":    math.Pow,
	"max":    math.Max,
	"min":    math.Min,
	"random": func() float64 { return 0 },
}

// Compile parses src once so it can be run many times.
func Compile(src string) (*goja.Program, error) {
	prog, err := goja.Compile("formula", src, true)
	if err != nil {
		return nil, fmt.Errorf("script: compile: %w", err)
	}
	return prog, nil
}

// Sandbox hands out runtimes from a fixed pool. A runtime that was
// interrupted is thrown away and replaced.
type Sandbox struct {
	vms     chan *goja.Runtime
	timeout time.Duration
	log     *zap.Logger
}

// NewSandbox creates a pool of size runtimes; each evaluation may run for at
// most timeout.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	if size <= 0 {
		size = 2
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sb := &Sandbox{
		vms:     make(chan *goja.Runtime, size),
		timeout: timeout,
		log:     logger.Named("script"),
	}
	for i := 0; i < size; i++ {
		sb.vms <- lockedRuntime()
	}
	return sb
}

func lockedRuntime() *goja.Runtime {
	vm := goja.New()
	for _, name := range hidden {
		_ = vm.Set(name, goja.Undefined())
	}
	m := vm.NewObject()
	for name, fn := range mathFuncs {
		_ = m.Set(name, fn)
	}
	_ = vm.Set("Math", m)
	return vm
}

// Eval compiles and runs src. Prefer Compile plus Run for repeated use.
func (sb *Sandbox) Eval(ctx context.Context, src string, b Bindings) (any, error) {
	prog, err := Compile(src)
	if err != nil {
		sb.log.Warn("script rejected", zap.String("src", preview(src)), zap.Error(err))
		return nil, err
	}
	out, err := sb.Run(ctx, prog, b)
	if err != nil {
		sb.log.Warn("script failed", zap.String("src", preview(src)), zap.Error(err))
	}
	return out, err
}

// Run executes prog with b bound as globals and returns the exported value
// of its last expression. null and undefined come back as nil.
func (sb *Sandbox) Run(ctx context.Context, prog *goja.Program, b Bindings) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var vm *goja.Runtime
	select {
	case vm = <-sb.vms:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	runCtx, cancel := context.WithTimeout(ctx, sb.timeout)
	defer cancel()
	disarm := context.AfterFunc(runCtx, func() { vm.Interrupt(runCtx.Err()) })

	for name, v := range b {
		_ = vm.Set(name, v)
	}
	val, err := runGuarded(vm, prog)

	if disarm() {
		for name := range b {
			_ = vm.GlobalObject().Delete(name)
		}
		sb.vms <- vm
	} else {
		// The interrupt fired or is about to; the runtime cannot be trusted.
		sb.vms <- lockedRuntime()
	}

	if err != nil {
		var intr *goja.InterruptedError
		if errors.As(err, &intr) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrTimeout
		}
		return nil, err
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

func runGuarded(vm *goja.Runtime, prog *goja.Program) (val goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return vm.RunProgram(prog)
}

func preview(s string) string {
	const n = 80
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
