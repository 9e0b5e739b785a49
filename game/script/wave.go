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

// ErrBadWaveSize is returned when a formula yields something other than a
// finite, non-negative number.
var ErrBadWaveSize = errors.New("script: wave formula must return a non-negative number")

// maxWaveSize caps formula output so a runaway expression cannot flood an arena.
const maxWaveSize = 1000

// WaveFormula sizes waves from a JavaScript expression. The expression sees
// `wave` (1-based) and `perWave` (the configured bots per wave) and must
// evaluate to the number of trackers to spawn, e.g. "perWave * wave + 1".
type WaveFormula struct {
	sb      *Sandbox
	src     string
	prog    *goja.Program
	perWave int
}

// NewWaveFormula compiles src and checks it by evaluating wave 1.
func NewWaveFormula(sb *Sandbox, src string, perWave int) (*WaveFormula, error) {
	if sb == nil {
		return nil, errors.New("script: nil sandbox")
	}
	prog, err := Compile(src)
	if err != nil {
		return nil, fmt.Errorf("wave formula %q: %w", src, err)
	}
	f := &WaveFormula{sb: sb, src: src, prog: prog, perWave: perWave}
	if _, err := f.BotsForWave(1); err != nil {
		return nil, fmt.Errorf("wave formula %q: %w", src, err)
	}
	return f, nil
}

// BotsForWave evaluates the formula for wave.
func (f *WaveFormula) BotsForWave(wave int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := f.sb.Run(ctx, f.prog, Bindings{"wave": wave, "perWave": f.perWave})
	if err == nil {
		var n int
		if n, err = toCount(out); err == nil {
			return n, nil
		}
	}
	f.sb.log.Warn("wave formula failed",
		zap.String("formula", f.src), zap.Int("wave", wave), zap.Any("value", out), zap.Error(err))
	return 0, err
}

func toCount(v any) (int, error) {
	var f float64
	switch x := v.(type) {
	case int64:
		f = float64(x)
	case float64:
		f = x
	default:
		return 0, ErrBadWaveSize
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, ErrBadWaveSize
	}
	return int(math.Min(f, maxWaveSize)), nil
}
