/*
 * mipsr3000emu - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	getopt "github.com/pborman/getopt/v2"

	"github.com/axemt/mipsr3000emu/emu/devices"
	"github.com/axemt/mipsr3000emu/emu/interp"
	"github.com/axemt/mipsr3000emu/emu/pipeline"
	logger "github.com/axemt/mipsr3000emu/util/logger"
)

var Logger *slog.Logger

func main() {
	optFilepath := getopt.StringLong("filepath", 'f', "", "Executable or raw binary to run")
	optVerbose := getopt.BoolLong("verbose", 'v', "Enable internal tracing")
	optPipeline := getopt.BoolLong("pipeline", 'p', "Use the pipelined core instead of the single-cycle interpreter")
	optEntry := getopt.StringLong("entry", 'e', "", "Entry PC for raw binaries (required unless --filepath is a .relf)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	if *optVerbose {
		level.Set(slog.LevelDebug)
	}
	Logger = slog.New(logger.NewHandler(os.Stderr, &slog.HandlerOptions{Level: level}, optVerbose))
	slog.SetDefault(Logger)

	if *optFilepath == "" {
		Logger.Error("--filepath is required")
		os.Exit(1)
	}

	entry, isRaw, err := resolveEntry(*optFilepath, *optEntry)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	if *optPipeline {
		runPipeline(*optFilepath, entry, isRaw)
	} else {
		runInterp(*optFilepath, entry, isRaw)
	}
}

// resolveEntry decides whether the target file is a raw binary (needing an
// explicit --entry) or a .relf executable (entry taken from its header once
// loaded), per the CLI surface described in the external interfaces.
func resolveEntry(path, entryFlag string) (entry uint32, isRaw bool, err error) {
	isRaw = !strings.HasSuffix(path, ".relf")
	if !isRaw {
		return 0, false, nil
	}
	if entryFlag == "" {
		return 0, true, errMissingEntry{}
	}
	v, perr := strconv.ParseUint(entryFlag, 0, 32)
	if perr != nil {
		return 0, true, perr
	}
	return uint32(v), true, nil
}

type errMissingEntry struct{}

func (errMissingEntry) Error() string { return "--entry is required for raw binaries" }

func attachClock(attach func(<-chan devices.Pulse, *devices.Interruptor)) *devices.Interruptor {
	interruptor, pulses := devices.NewInterruptor(devices.DefaultClockPeriod, nil)
	attach(pulses, interruptor)
	go interruptor.Start()
	return interruptor
}

func runInterp(path string, entry uint32, isRaw bool) {
	cpu := interp.New(0)
	attachClock(cpu.AttachInterruptSource)

	keyboard := devices.NewKeyboard(os.Stdin)
	lo, hi := keyboard.Range()
	cpu.Mem.MapDevice(lo, hi, keyboard)

	if isRaw {
		if err := cpu.Mem.LoadBinary(path); err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
		cpu.PC = entry
	} else {
		e, err := cpu.Mem.LoadExecutable(path)
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
		cpu.PC = e
	}

	if err := cpu.Run(); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}
	Logger.Info("program terminated", "instructions", cpu.Stats.Instructions)
}

func runPipeline(path string, entry uint32, isRaw bool) {
	core := pipeline.New(0)
	attachClock(core.AttachInterruptSource)

	keyboard := devices.NewKeyboard(os.Stdin)
	lo, hi := keyboard.Range()
	core.Mem.MapDevice(lo, hi, keyboard)

	if isRaw {
		if err := core.Mem.LoadBinary(path); err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
		core.PC = entry
	} else {
		e, err := core.Mem.LoadExecutable(path)
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
		core.PC = e
	}

	if err := core.Run(); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}
	Logger.Info("program terminated", "cycles", core.Stats.Cycles, "instructions", core.Stats.Instructions)
}
