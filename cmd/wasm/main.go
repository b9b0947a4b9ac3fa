//go:build js && wasm

// Command wasm runs evacuations in the browser. It registers two global
// functions:
//
//	evacsimRun(input)      -> Output JSON string, or {error, config}
//	evacsimValidate(input) -> {ok: true}, or {error, config}
//
// input is a JSON-encoded engine.SimulationInput with its config overlay.
// The Output carries the end-of-run Result, the msgpack snapshot when the
// run stopped on its wall-clock budget, and the vehicle trace when
// run.trace_every is set. config is true when the input itself was rejected
// at setup, before any tick ran.
package main

import (
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/cxd309/evacsim/internal/config"
	"github.com/cxd309/evacsim/internal/engine"
)

func main() {
	js.Global().Set("evacsimRun", js.FuncOf(run))
	js.Global().Set("evacsimValidate", js.FuncOf(validate))
	select {}
}

func run(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return failure(fmt.Errorf("no input provided"))
	}
	out, err := engine.RunJSON(args[0].String())
	if err != nil {
		return failure(err)
	}
	return out
}

// validate builds the initial world without stepping it.
func validate(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return failure(fmt.Errorf("no input provided"))
	}
	var input engine.SimulationInput
	if err := json.Unmarshal([]byte(args[0].String()), &input); err != nil {
		return failure(fmt.Errorf("invalid input JSON: %w", err))
	}
	cfg, err := engine.DecodeConfig(input.Config)
	if err != nil {
		return failure(err)
	}
	if _, err := engine.NewSim(input, cfg); err != nil {
		return failure(err)
	}
	return map[string]any{"ok": true}
}

func failure(err error) map[string]any {
	return map[string]any{"error": err.Error(), "config": config.IsConfigError(err)}
}
