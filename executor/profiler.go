/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
)

// Profiler writes the CPU, heap and block profiles requested by the daemon configuration.
type Profiler struct {
	config  *IpcpdConfig
	cpuFile *os.File
	block   *pprof.Profile
}

func NewProfiler(config *IpcpdConfig) *Profiler {
	return &Profiler{config: config}
}

func (p *Profiler) Start() error {
	if p.config.CpuProfile != "" {
		cpuFile, err := os.Create(p.config.CpuProfile)
		if err != nil {
			return fmt.Errorf("unable to open output file for CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			cpuFile.Close()
			return fmt.Errorf("unable to start CPU profile: %w", err)
		}
		p.cpuFile = cpuFile
		core.LogInfo("Main", "Profiling CPU - outputting to ", p.config.CpuProfile)
	}

	if p.config.BlockProfile != "" {
		core.LogInfo("Main", "Profiling blocking operations - outputting to ", p.config.BlockProfile)
		runtime.SetBlockProfileRate(1)
		p.block = pprof.Lookup("block")
	}
	return nil
}

func (p *Profiler) Stop() {
	if p.block != nil {
		blockProfileFile, err := os.Create(p.config.BlockProfile)
		if err != nil {
			core.LogError("Main", "Unable to open output file for block profile: ", err)
		} else {
			if err := p.block.WriteTo(blockProfileFile, 0); err != nil {
				core.LogError("Main", "Unable to write block profile: ", err)
			}
			blockProfileFile.Close()
		}
		runtime.SetBlockProfileRate(0)
		p.block = nil
	}

	if p.config.MemProfile != "" {
		memProfileFile, err := os.Create(p.config.MemProfile)
		if err != nil {
			core.LogError("Main", "Unable to open output file for memory profile: ", err)
		} else {
			defer memProfileFile.Close()
			core.LogInfo("Main", "Profiling memory - outputting to ", p.config.MemProfile)
			runtime.GC()
			if err := pprof.WriteHeapProfile(memProfileFile); err != nil {
				core.LogError("Main", "Unable to write memory profile: ", err)
			}
		}
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}
}
