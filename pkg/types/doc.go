/*
Package types defines the record types shared across kguardian's agent and
broker processes: the agent-side correlator value (PodMetadata), the
broker-persisted records (PodDetail, SvcDetail, PodTraffic, PodPacketDrop,
PodSyscalls/PodInputSyscalls), and the typed error kinds used for
errors.As-based classification throughout the rest of the module.

All wire types carry json tags matching the field names used on the
broker's HTTP surface, and db tags matching the sqlx column names used by
pkg/broker. Enums (TrafficDirection, TrafficDecision, Protocol) are typed
strings with String()/parse round-trips so the same value can move between
JSON, SQL and Go code without re-validation at every hop.
*/
package types
