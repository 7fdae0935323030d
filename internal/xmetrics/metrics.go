// Package xmetrics registers the node's runtime counters and timers,
// following the same metrics.NewRegisteredCounter/NewRegisteredTimer call
// pattern go-ethereum's miner package uses, in go-ethereum's default
// metrics registry. This module wires no exporter for that registry.
package xmetrics

import "github.com/ethereum/go-ethereum/metrics"

var (
	// SandboxExecutions counts completed (successful or not) sandbox
	// execute calls.
	SandboxExecutions = metrics.NewRegisteredCounter("sandbox/executions", nil)
	// SandboxTimeouts counts execute calls that hit the 10s deadline.
	SandboxTimeouts = metrics.NewRegisteredCounter("sandbox/timeouts", nil)
	// SandboxMemoryKills counts sessions killed for exceeding the memory cap.
	SandboxMemoryKills = metrics.NewRegisteredCounter("sandbox/memoryKills", nil)
	// SandboxExecutionTime times execute round trips that complete before
	// the deadline, whether or not they succeed.
	SandboxExecutionTime = metrics.NewRegisteredTimer("sandbox/executionTime", nil)

	// QuorumRounds counts Snowman voting rounds run.
	QuorumRounds = metrics.NewRegisteredCounter("consensus/quorumRounds", nil)
	// QuorumReached counts rounds that met the quorum threshold.
	QuorumReached = metrics.NewRegisteredCounter("consensus/quorumReached", nil)

	// SyncAttempts counts SyncIfBehind invocations that found a longer peer.
	SyncAttempts = metrics.NewRegisteredCounter("sync/attempts", nil)
	// SyncFailures counts sync attempts abandoned after a download/validation
	// failure.
	SyncFailures = metrics.NewRegisteredCounter("sync/failures", nil)

	// DispatcherUnknownTag counts frames that matched no known tag.
	DispatcherUnknownTag = metrics.NewRegisteredCounter("dispatcher/unknownTag", nil)
)

