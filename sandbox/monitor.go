package sandbox

import (
	"context"
	"os/exec"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/internal/xmetrics"
	"github.com/shirou/gopsutil/process"
)

// startMonitor launches the background resource monitor that polls the
// child's working-set size every MonitorInterval and kills it (and any
// children it spawned) on a breach of MemoryCapBytes.
func (s *Session) startMonitor() {
	ctx, cancel := context.WithCancel(context.Background())
	s.monitorCancel = cancel
	s.monitorDone = make(chan struct{})

	pid := int32(s.cmd.Process.Pid)
	go func() {
		defer close(s.monitorDone)
		ticker := time.NewTicker(MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				exceeded, err := memoryExceeded(pid)
				if err != nil {
					// The process likely exited on its own; nothing to kill.
					return
				}
				if exceeded {
					log.Error("sandbox session exceeded memory cap", "sessionId", s.id, "capBytes", MemoryCapBytes)
					xmetrics.SandboxMemoryKills.Inc(1)
					s.killProcess("memory cap exceeded")
					return
				}
			}
		}
	}()
}

// memoryExceeded reports whether pid, or any of its children, has exceeded
// MemoryCapBytes resident set size.
func memoryExceeded(pid int32) (bool, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return false, err
	}
	if info.RSS > MemoryCapBytes {
		return true, nil
	}
	children, err := proc.Children()
	if err != nil {
		// No children is the common case and reports as an error on some
		// platforms; treat it as "no additional usage" rather than fatal.
		return false, nil
	}
	for _, child := range children {
		childInfo, err := child.MemoryInfo()
		if err != nil {
			continue
		}
		if childInfo.RSS > MemoryCapBytes {
			return true, nil
		}
	}
	return false, nil
}

// killProcessTree kills cmd's process and any children gopsutil can find
// for it.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := int32(cmd.Process.Pid)
	if proc, err := process.NewProcess(pid); err == nil {
		if children, err := proc.Children(); err == nil {
			for _, child := range children {
				_ = child.Kill()
			}
		}
	}
	_ = cmd.Process.Kill()
}
