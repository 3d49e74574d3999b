/*
Package log provides structured logging for kguardian using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/kguardian-dev/kguardian/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("agent starting")
	log.Debug("probe bringup complete")
	log.Warn("syscall allowlist population failed, continuing unfiltered")
	log.Error("broker POST failed")
	log.Fatal("CURRENT_NODE not set") // exits process

Component and context loggers:

	probeLog := log.WithComponent("probe")
	probeLog.Info().Msg("ring buffer poller started")

	podLog := log.WithPod(pod.Name, pod.Namespace)
	podLog.Debug().Msg("netns resolved")

	pipelineLog := log.WithPipeline("network-flow")
	pipelineLog.Info().Int("batch_size", len(batch)).Msg("flushed batch")

# Design

Global Logger Pattern: a single package-level zerolog.Logger, initialized
once in cmd/kguardian-agent and cmd/kguardian-broker's main(), accessible
from every package without threading a logger through every constructor.

Context Logger Pattern: WithComponent/WithNode/WithPod/WithPipeline return
child loggers that carry fixed fields, so call sites don't repeat
Str("pod_name", ...) on every log line.

# Security

Never log secrets (broker credentials, API tokens). Pod specs logged via
WithPod carry only name/namespace, never the full pod object.
*/
package log
