/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/ipcp"
	"github.com/tebeka/atexit"
)

// IpcpdConfig is the configuration of the daemon.
type IpcpdConfig struct {
	Version        string
	ConfigFileName string
	LogFile        string
	CpuProfile     string
	MemProfile     string
	BlockProfile   string
}

// Ipcpd is the wrapper of one IPC process.
type Ipcpd struct {
	config   *IpcpdConfig
	profiler *Profiler
	engine   *ipcp.Engine
	stopOnce sync.Once
}

// NewIpcpd loads the configuration, initializes logging and creates the engine.
func NewIpcpd(config *IpcpdConfig) (*Ipcpd, error) {
	// Provide metadata to other threads.
	core.Version = config.Version
	core.StartTimestamp = time.Now()

	if config.ConfigFileName != "" {
		if err := core.LoadConfig(config.ConfigFileName); err != nil {
			return nil, err
		}
	}
	logFile := config.LogFile
	if logFile == "" {
		logFile = core.ResolveConfigFileRelPath(core.GetConfigStringDefault("core.log_file", ""))
	}
	if err := core.InitializeLogger(logFile); err != nil {
		return nil, err
	}

	options := ipcp.MakeOptions()
	options.EventHandler = logEvent
	return &Ipcpd{
		config:   config,
		profiler: NewProfiler(config),
		engine:   ipcp.NewEngine(options),
	}, nil
}

// Engine returns the IPC process engine.
func (d *Ipcpd) Engine() *ipcp.Engine {
	return d.engine
}

// Start starts profiling and makes the engine reachable. It does not block.
func (d *Ipcpd) Start() error {
	core.LogInfo("Main", "Starting ipcpd ", core.Version, " at ", d.engine.Address())
	if err := d.profiler.Start(); err != nil {
		return err
	}
	if err := d.engine.Start(); err != nil {
		d.profiler.Stop()
		return err
	}
	if url := d.engine.WebSocketURL(); url != "" {
		core.LogInfo("Main", "Accepting WebSocket channels at ", url)
	}
	atexit.Register(d.Stop)
	return nil
}

// Stop stops the engine, writes pending profiles and closes the log.
func (d *Ipcpd) Stop() {
	d.stopOnce.Do(func() {
		core.LogInfo("Main", "Stopping ipcpd")
		d.engine.Stop()
		d.profiler.Stop()

		m := d.engine.Measurements()
		core.LogInfo("Main", "Flows allocated=", m.Int("flows_allocated"), " deallocated=", m.Int("flows_deallocated"),
			", SDUs in=", m.Int("sdus_in"), " out=", m.Int("sdus_out"), ", dropped=", m.Int("messages_dropped"),
			", invalid=", m.Int("invalid_messages"))
		core.ShutdownLogger()
	})
}

// Run starts the daemon and blocks until ctx is done or SIGINT or SIGTERM is received.
func (d *Ipcpd) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	defer d.Stop()

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChannel)

	select {
	case receivedSig := <-sigChannel:
		core.LogInfo("Main", "Received signal ", receivedSig, " - exiting")
	case <-ctx.Done():
		core.LogInfo("Main", "Context done - exiting")
	}
	return nil
}

func logEvent(event ipcp.Event) {
	switch event.Kind {
	case ipcp.EventMessageDropped:
		core.LogWarn("Main", "Dropped SDU of ", event.Length, " bytes for ", event.LocalCepId)
	case ipcp.EventInvalidMessage:
		core.LogDebug("Main", "Invalid message from ", event.Address, ": ", event.Err)
	case ipcp.EventChannelDown:
		core.LogInfo("Main", "Channel to ", event.Address, " is down")
	default:
		core.LogTrace("Main", event.Kind, " ", event.LocalCepId, " <-> ", event.RemoteCepId)
	}
}
