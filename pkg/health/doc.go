/*
Package health provides the debounced dependency-health tracking the
teacher built for its container healthchecks (HTTP/TCP/exec checkers plus
a retry-debounced Status), kept here for the one external dependency
kguardian's agent actually needs to watch: the broker's HTTP reachability.

Only the HTTP checker survives the port to kguardian's domain — the agent
has no containers to exec into and no bare-TCP dependency, so TCPChecker
and ExecChecker were dropped rather than carried unwired (see DESIGN.md).

A Checker performs one health probe and reports a Result. Status debounces
a stream of Results against a Config's Interval/Timeout/Retries/StartPeriod
so a single slow response doesn't flap the reported health — the same
shape the teacher used to decide when to replace an unhealthy task, reused
here to decide when to flip the broker component in pkg/metrics's
readiness registry from healthy to unhealthy and back.
*/
package health
