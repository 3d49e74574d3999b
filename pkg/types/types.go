package types

import (
	"fmt"
	"time"
)

// PodMetadata is the agent-side correlator value, keyed by netns inode.
// It is never mutated in place: a fresh record replaces the old one.
type PodMetadata struct {
	PodName           string
	PodNamespace      string
	PodIP             string
	ContainerID       string
	HostPID           int
	WorkloadIdentity  string
	WorkloadSelectors map[string]string
}

// TrafficDirection is the direction of an observed flow relative to the pod.
type TrafficDirection string

const (
	TrafficIngress TrafficDirection = "INGRESS"
	TrafficEgress  TrafficDirection = "EGRESS"
)

func (d TrafficDirection) String() string { return string(d) }

// ParseTrafficDirection parses the wire string form back into a TrafficDirection.
func ParseTrafficDirection(s string) (TrafficDirection, error) {
	switch TrafficDirection(s) {
	case TrafficIngress, TrafficEgress:
		return TrafficDirection(s), nil
	default:
		return "", fmt.Errorf("unknown traffic direction %q", s)
	}
}

// TrafficDecision records whether a flow was allowed or dropped.
type TrafficDecision string

const (
	DecisionAllow TrafficDecision = "ALLOW"
	DecisionDrop  TrafficDecision = "DROP"
)

func (d TrafficDecision) String() string { return string(d) }

// ParseTrafficDecision parses the wire string form back into a TrafficDecision.
func ParseTrafficDecision(s string) (TrafficDecision, error) {
	switch TrafficDecision(s) {
	case DecisionAllow, DecisionDrop:
		return TrafficDecision(s), nil
	default:
		return "", fmt.Errorf("unknown traffic decision %q", s)
	}
}

// Protocol is an L4 protocol name derived from a kernel-reported protocol
// number. Unrecognized numbers stringify as UNKNOWN(n) and are not expected
// to round-trip back to a number.
type Protocol string

const (
	ProtocolTCP     Protocol = "TCP"
	ProtocolUDP     Protocol = "UDP"
	ProtocolICMP    Protocol = "ICMP"
	ProtocolICMPv6  Protocol = "ICMPv6"
	ProtocolUnknown Protocol = "UNKNOWN"
)

func (p Protocol) String() string { return string(p) }

// ProtocolFromNumber maps a kernel protocol byte to its Protocol name.
func ProtocolFromNumber(n uint8) Protocol {
	switch n {
	case 6:
		return ProtocolTCP
	case 17:
		return ProtocolUDP
	case 1:
		return ProtocolICMP
	case 58:
		return ProtocolICMPv6
	default:
		return Protocol(fmt.Sprintf("UNKNOWN(%d)", n))
	}
}

// ProtocolToNumber reverses ProtocolFromNumber for the four well-known
// protocols; ok is false for UNKNOWN(n) values since those are not expected
// to round-trip.
func ProtocolToNumber(p Protocol) (n uint8, ok bool) {
	switch p {
	case ProtocolTCP:
		return 6, true
	case ProtocolUDP:
		return 17, true
	case ProtocolICMP:
		return 1, true
	case ProtocolICMPv6:
		return 58, true
	default:
		return 0, false
	}
}

// PodDetail is the broker-side pod record. Pod name is the primary
// identity; upsert replaces all stored non-key fields. IsDead is monotonic
// within a generation (false->true only); a new upsert of the same name
// resets it. WorkloadSelectors travels on the wire only: pkg/broker does
// not store it, so records read back from the broker carry none.
type PodDetail struct {
	PodName           string            `json:"pod_name" db:"pod_name"`
	PodNamespace      string            `json:"pod_namespace" db:"pod_namespace"`
	PodIP             string            `json:"pod_ip" db:"pod_ip"`
	NodeName          string            `json:"node_name" db:"node_name"`
	PodObj            string            `json:"pod_obj" db:"pod_obj"`
	TimeStamp         time.Time         `json:"time_stamp" db:"time_stamp"`
	IsDead            bool              `json:"is_dead" db:"is_dead"`
	PodIdentity       string            `json:"pod_identity" db:"pod_identity"`
	WorkloadSelectors map[string]string `json:"workload_selector_labels,omitempty" db:"-"`
}

// SvcDetail is the broker-side service record, keyed by service IP with
// upsert-replace semantics.
type SvcDetail struct {
	SvcIP        string    `json:"svc_ip" db:"svc_ip"`
	SvcName      string    `json:"svc_name" db:"svc_name"`
	SvcNamespace string    `json:"svc_namespace" db:"svc_namespace"`
	TimeStamp    time.Time `json:"time_stamp" db:"time_stamp"`
}

// PodTraffic is an L4 flow record. PodIP/PodPort, TrafficType and the
// remote tuple together form the dedup key, except that UDP matching falls
// back to a weaker predicate (see pkg/broker).
type PodTraffic struct {
	UUID         string    `json:"uuid" db:"uuid"`
	PodName      string    `json:"pod_name" db:"pod_name"`
	PodNamespace string    `json:"pod_namespace" db:"pod_namespace"`
	PodIP        string    `json:"pod_ip" db:"pod_ip"`
	PodPort      string    `json:"pod_port" db:"pod_port"`
	TrafficType  string    `json:"traffic_type" db:"traffic_type"`
	RemoteIP     string    `json:"remote_ip" db:"remote_ip"`
	RemotePort   string    `json:"remote_port" db:"remote_port"`
	Decision     string    `json:"decision" db:"decision"`
	IPProtocol   string    `json:"ip_protocol" db:"ip_protocol"`
	TimeStamp    time.Time `json:"time_stamp" db:"time_stamp"`
}

// PodPacketDrop is a network-policy drop record; same tuple shape as
// PodTraffic plus a human-readable reason derived from protocol and
// SYN-retry count. Direction is always EGRESS.
type PodPacketDrop struct {
	UUID         string    `json:"uuid" db:"uuid"`
	PodName      string    `json:"pod_name" db:"pod_name"`
	PodNamespace string    `json:"pod_namespace" db:"pod_namespace"`
	PodIP        string    `json:"pod_ip" db:"pod_ip"`
	PodPort      string    `json:"pod_port" db:"pod_port"`
	TrafficType  string    `json:"traffic_type" db:"traffic_type"`
	RemoteIP     string    `json:"remote_ip" db:"remote_ip"`
	RemotePort   string    `json:"remote_port" db:"remote_port"`
	DropReason   string    `json:"drop_reason" db:"drop_reason"`
	IPProtocol   string    `json:"ip_protocol" db:"ip_protocol"`
	TimeStamp    time.Time `json:"time_stamp" db:"time_stamp"`
}

// PodInputSyscalls is the batch unit the agent posts for a syscall-pipeline
// flush: one entry per (pod, namespace, architecture) with the full set of
// syscall numbers observed since the last flush (the agent already
// accumulates; see PodSyscalls for the broker's merged row).
type PodInputSyscalls struct {
	PodName      string    `json:"pod_name"`
	PodNamespace string    `json:"pod_namespace"`
	Arch         string    `json:"arch"`
	Syscalls     []string  `json:"syscalls"`
	TimeStamp    time.Time `json:"time_stamp"`
}

// PodSyscalls is the broker-side merged row, keyed by (pod_name,
// pod_namespace, arch). Syscalls is a comma-joined, monotonically growing
// set of syscall numbers observed across a pod lifetime.
type PodSyscalls struct {
	PodName      string    `json:"pod_name" db:"pod_name"`
	PodNamespace string    `json:"pod_namespace" db:"pod_namespace"`
	Arch         string    `json:"arch" db:"arch"`
	Syscalls     string    `json:"syscalls" db:"syscalls"`
	TimeStamp    time.Time `json:"time_stamp" db:"time_stamp"`
}

// MarkDeadRequest is the body of POST /pod/mark_dead.
type MarkDeadRequest struct {
	PodName string `json:"pod_name"`
}

// NetworkEventKind identifies which of the three allow-path flow shapes a
// raw ring-buffer network event represents.
type NetworkEventKind uint16

const (
	NetworkEventEgressTCP  NetworkEventKind = 1
	NetworkEventIngressTCP NetworkEventKind = 2
	NetworkEventEgressUDP  NetworkEventKind = 3
)
