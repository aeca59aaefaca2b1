package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding the emission formulas.
// Single-goroutine access only; emissions are evaluated while the scene
// is loaded, before any worker starts.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every script of scriptsDir. A
// missing directory yields an engine without functions.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load emission scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source in the engine.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Emission calls the Lua function name(params, bands) and returns the
// sound power level in dB for each band. The function must return an
// array with one number per band.
func (e *Engine) Emission(name string, params map[string]float64, bands []float64) ([]float64, error) {
	fn := e.vm.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("lua function %s not found", name)
	}

	pt := e.vm.NewTable()
	for k, v := range params {
		pt.RawSetString(k, lua.LNumber(v))
	}
	bt := e.vm.CreateTable(len(bands), 0)
	for i, f := range bands {
		bt.RawSetInt(i+1, lua.LNumber(f))
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, pt, bt); err != nil {
		return nil, fmt.Errorf("lua %s: %w", name, err)
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua %s returned %s, want a table", name, result.Type())
	}
	n := rt.Len()
	if n != len(bands) {
		return nil, fmt.Errorf("lua %s returned %d levels for %d bands", name, n, len(bands))
	}
	out := make([]float64, n)
	for i := range out {
		v, ok := rt.RawGetInt(i + 1).(lua.LNumber)
		if !ok {
			return nil, fmt.Errorf("lua %s: level %d is not a number", name, i+1)
		}
		out[i] = float64(v)
	}
	return out, nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
