/*
Package broker implements C8: the relational ingest core behind
cmd/kguardian-broker. Unlike the teacher's pkg/storage, which is a
key-value Store (BoltDB buckets keyed by entity ID) because Warren's
cluster state has no query shape beyond get/list-by-id, kguardian needs
relational lookups (by pod name, by IP, by node) and idempotent batch
insertion against duplicate-suppression predicates — so Store here wraps
github.com/jmoiron/sqlx over github.com/mattn/go-sqlite3 instead, one
receiver type wrapping a driver handle, one method per entity per CRUD
verb, the same error-wrapping idiom ("...: %w") the teacher's BoltStore
uses throughout.
*/
package broker

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS pod_details (
	pod_name TEXT PRIMARY KEY,
	pod_namespace TEXT NOT NULL,
	pod_ip TEXT NOT NULL,
	node_name TEXT NOT NULL,
	pod_obj TEXT NOT NULL,
	time_stamp DATETIME NOT NULL,
	is_dead BOOLEAN NOT NULL DEFAULT 0,
	pod_identity TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS svc_details (
	svc_ip TEXT PRIMARY KEY,
	svc_name TEXT NOT NULL,
	svc_namespace TEXT NOT NULL,
	time_stamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pod_traffic (
	uuid TEXT PRIMARY KEY,
	pod_name TEXT NOT NULL,
	pod_namespace TEXT NOT NULL,
	pod_ip TEXT NOT NULL,
	pod_port TEXT NOT NULL,
	traffic_type TEXT NOT NULL,
	remote_ip TEXT NOT NULL,
	remote_port TEXT NOT NULL,
	decision TEXT NOT NULL,
	ip_protocol TEXT NOT NULL,
	time_stamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pod_traffic_pod_name ON pod_traffic(pod_name);
CREATE INDEX IF NOT EXISTS idx_pod_traffic_pod_ip ON pod_traffic(pod_ip);

CREATE TABLE IF NOT EXISTS pod_packet_drop (
	uuid TEXT PRIMARY KEY,
	pod_name TEXT NOT NULL,
	pod_namespace TEXT NOT NULL,
	pod_ip TEXT NOT NULL,
	pod_port TEXT NOT NULL,
	traffic_type TEXT NOT NULL,
	remote_ip TEXT NOT NULL,
	remote_port TEXT NOT NULL,
	drop_reason TEXT NOT NULL,
	ip_protocol TEXT NOT NULL,
	time_stamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pod_packet_drop_pod_name ON pod_packet_drop(pod_name);

CREATE TABLE IF NOT EXISTS pod_syscalls (
	pod_name TEXT NOT NULL,
	pod_namespace TEXT NOT NULL,
	arch TEXT NOT NULL,
	syscalls TEXT NOT NULL,
	time_stamp DATETIME NOT NULL,
	PRIMARY KEY (pod_name, pod_namespace, arch)
);
`

// Store wraps a sqlite3 handle through sqlx, providing one method per
// broker entity per CRUD verb used by C8's ingest handlers.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the sqlite3 database at path and
// bootstraps the schema. Schema creation is idempotent (CREATE TABLE IF
// NOT EXISTS); there is no migration toolchain here, by design (see
// DESIGN.md).
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPodDetail inserts or replaces the pod's record, keyed by pod name.
func (s *Store) UpsertPodDetail(pod types.PodDetail) (types.PodDetail, error) {
	const q = `
INSERT INTO pod_details (pod_name, pod_namespace, pod_ip, node_name, pod_obj, time_stamp, is_dead, pod_identity)
VALUES (:pod_name, :pod_namespace, :pod_ip, :node_name, :pod_obj, :time_stamp, :is_dead, :pod_identity)
ON CONFLICT(pod_name) DO UPDATE SET
	pod_namespace = excluded.pod_namespace,
	pod_ip = excluded.pod_ip,
	node_name = excluded.node_name,
	pod_obj = excluded.pod_obj,
	time_stamp = excluded.time_stamp,
	is_dead = excluded.is_dead,
	pod_identity = excluded.pod_identity
`
	if _, err := s.db.NamedExec(q, pod); err != nil {
		return types.PodDetail{}, fmt.Errorf("upsert pod_details %s: %w", pod.PodName, err)
	}
	return pod, nil
}

// UpsertSvcDetail inserts or replaces the service's record, keyed by IP.
func (s *Store) UpsertSvcDetail(svc types.SvcDetail) (types.SvcDetail, error) {
	const q = `
INSERT INTO svc_details (svc_ip, svc_name, svc_namespace, time_stamp)
VALUES (:svc_ip, :svc_name, :svc_namespace, :time_stamp)
ON CONFLICT(svc_ip) DO UPDATE SET
	svc_name = excluded.svc_name,
	svc_namespace = excluded.svc_namespace,
	time_stamp = excluded.time_stamp
`
	if _, err := s.db.NamedExec(q, svc); err != nil {
		return types.SvcDetail{}, fmt.Errorf("upsert svc_details %s: %w", svc.SvcIP, err)
	}
	return svc, nil
}

// MarkPodDead sets is_dead=true for pod and returns the number of rows
// updated (0 or 1; pod names are unique).
func (s *Store) MarkPodDead(podName string) (int64, error) {
	res, err := s.db.Exec(`UPDATE pod_details SET is_dead = 1 WHERE pod_name = ?`, podName)
	if err != nil {
		return 0, fmt.Errorf("mark pod dead %s: %w", podName, err)
	}
	return res.RowsAffected()
}

// AlivePodsOnNode returns every non-dead pod_details row for node.
func (s *Store) AlivePodsOnNode(node string) ([]types.PodDetail, error) {
	var pods []types.PodDetail
	err := s.db.Select(&pods, `SELECT * FROM pod_details WHERE node_name = ? AND is_dead = 0`, node)
	if err != nil {
		return nil, fmt.Errorf("list alive pods on node %s: %w", node, err)
	}
	return pods, nil
}

// PodDetailByName returns the pod_details row for name.
func (s *Store) PodDetailByName(name string) (types.PodDetail, error) {
	var pod types.PodDetail
	err := s.db.Get(&pod, `SELECT * FROM pod_details WHERE pod_name = ?`, name)
	if err != nil {
		return types.PodDetail{}, fmt.Errorf("get pod_details %s: %w", name, err)
	}
	return pod, nil
}

// PodDetailByIP returns the pod_details row whose pod_ip matches ip.
func (s *Store) PodDetailByIP(ip string) (types.PodDetail, error) {
	var pod types.PodDetail
	err := s.db.Get(&pod, `SELECT * FROM pod_details WHERE pod_ip = ? ORDER BY time_stamp DESC LIMIT 1`, ip)
	if err != nil {
		return types.PodDetail{}, fmt.Errorf("get pod_details by ip %s: %w", ip, err)
	}
	return pod, nil
}

// SvcDetailByIP returns the svc_details row whose svc_ip matches ip.
func (s *Store) SvcDetailByIP(ip string) (types.SvcDetail, error) {
	var svc types.SvcDetail
	err := s.db.Get(&svc, `SELECT * FROM svc_details WHERE svc_ip = ?`, ip)
	if err != nil {
		return types.SvcDetail{}, fmt.Errorf("get svc_details by ip %s: %w", ip, err)
	}
	return svc, nil
}

// trafficDuplicate reports whether a row matching the given PodTraffic's
// dedup predicate already exists. TCP (and everything but UDP) matches
// on the full tuple; UDP falls back through a weaker two-step predicate,
// since UDP is connectionless and the kernel probe can report slightly
// different port pairings for what is semantically the same flow.
func (s *Store) trafficDuplicate(t types.PodTraffic) (bool, error) {
	if t.IPProtocol != types.ProtocolUDP.String() {
		const q = `
SELECT 1 FROM pod_traffic
WHERE pod_ip = ? AND pod_port = ? AND traffic_type = ? AND remote_ip = ? AND remote_port = ? AND decision = ?
LIMIT 1`
		var exists int
		err := s.db.Get(&exists, q, t.PodIP, t.PodPort, t.TrafficType, t.RemoteIP, t.RemotePort, t.Decision)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	const dropPodPort = `
SELECT 1 FROM pod_traffic
WHERE pod_ip = ? AND traffic_type = ? AND remote_ip = ? AND remote_port = ? AND decision = ?
LIMIT 1`
	var exists int
	err := s.db.Get(&exists, dropPodPort, t.PodIP, t.TrafficType, t.RemoteIP, t.RemotePort, t.Decision)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	const dropRemotePort = `
SELECT 1 FROM pod_traffic
WHERE pod_ip = ? AND pod_port = ? AND traffic_type = ? AND remote_ip = ? AND decision = ?
LIMIT 1`
	err = s.db.Get(&exists, dropRemotePort, t.PodIP, t.PodPort, t.TrafficType, t.RemoteIP, t.Decision)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	return false, nil
}

// InsertTraffic stores record unless a duplicate (per the predicate
// above) already exists. Returns true if a new row was inserted.
func (s *Store) InsertTraffic(t types.PodTraffic) (bool, error) {
	dup, err := s.trafficDuplicate(t)
	if err != nil {
		return false, fmt.Errorf("check pod_traffic duplicate: %w", err)
	}
	if dup {
		return false, nil
	}

	const q = `
INSERT INTO pod_traffic (uuid, pod_name, pod_namespace, pod_ip, pod_port, traffic_type, remote_ip, remote_port, decision, ip_protocol, time_stamp)
VALUES (:uuid, :pod_name, :pod_namespace, :pod_ip, :pod_port, :traffic_type, :remote_ip, :remote_port, :decision, :ip_protocol, :time_stamp)
`
	if _, err := s.db.NamedExec(q, t); err != nil {
		return false, fmt.Errorf("insert pod_traffic %s: %w", t.UUID, err)
	}
	return true, nil
}

// InsertTrafficBatch inserts every non-duplicate record in batch and
// returns the count actually inserted.
func (s *Store) InsertTrafficBatch(batch []types.PodTraffic) (int, error) {
	inserted := 0
	for _, t := range batch {
		ok, err := s.InsertTraffic(t)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// TrafficByPodName returns every pod_traffic row for name.
func (s *Store) TrafficByPodName(name string) ([]types.PodTraffic, error) {
	var rows []types.PodTraffic
	err := s.db.Select(&rows, `SELECT * FROM pod_traffic WHERE pod_name = ? ORDER BY time_stamp`, name)
	if err != nil {
		return nil, fmt.Errorf("list pod_traffic for %s: %w", name, err)
	}
	return rows, nil
}

// packetDropDuplicate matches the same tuple as trafficDuplicate, but
// against pod_packet_drop and without a decision column (every row here
// is implicitly a drop).
func (s *Store) packetDropDuplicate(d types.PodPacketDrop) (bool, error) {
	const q = `
SELECT 1 FROM pod_packet_drop
WHERE pod_ip = ? AND pod_port = ? AND traffic_type = ? AND remote_ip = ? AND remote_port = ?
LIMIT 1`
	var exists int
	err := s.db.Get(&exists, q, d.PodIP, d.PodPort, d.TrafficType, d.RemoteIP, d.RemotePort)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	return false, nil
}

// InsertPacketDropBatch inserts every non-duplicate record in batch and
// returns the count actually inserted.
func (s *Store) InsertPacketDropBatch(batch []types.PodPacketDrop) (int, error) {
	const q = `
INSERT INTO pod_packet_drop (uuid, pod_name, pod_namespace, pod_ip, pod_port, traffic_type, remote_ip, remote_port, drop_reason, ip_protocol, time_stamp)
VALUES (:uuid, :pod_name, :pod_namespace, :pod_ip, :pod_port, :traffic_type, :remote_ip, :remote_port, :drop_reason, :ip_protocol, :time_stamp)
`
	inserted := 0
	for _, d := range batch {
		dup, err := s.packetDropDuplicate(d)
		if err != nil {
			return inserted, fmt.Errorf("check pod_packet_drop duplicate: %w", err)
		}
		if dup {
			continue
		}
		if _, err := s.db.NamedExec(q, d); err != nil {
			return inserted, fmt.Errorf("insert pod_packet_drop %s: %w", d.UUID, err)
		}
		inserted++
	}
	return inserted, nil
}

// UpsertSyscalls merges each batch entry's syscall set into the existing
// pod_syscalls row (if any), keyed by (pod_name, pod_namespace, arch).
// Unlike the original implementation, which replaces the stored set
// wholesale and so silently forgets syscalls from earlier flushes, this
// merges via set union so the persisted set is monotonically growing
// across a pod's lifetime, matching what the agent-side aggregation
// already promises.
func (s *Store) UpsertSyscalls(batch []types.PodInputSyscalls) error {
	for _, in := range batch {
		var existing types.PodSyscalls
		err := s.db.Get(&existing, `SELECT * FROM pod_syscalls WHERE pod_name = ? AND pod_namespace = ? AND arch = ?`, in.PodName, in.PodNamespace, in.Arch)

		merged := in.Syscalls
		if err == nil {
			merged = unionSyscalls(existing.Syscalls, in.Syscalls)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get pod_syscalls %s: %w", in.PodName, err)
		}

		const q = `
INSERT INTO pod_syscalls (pod_name, pod_namespace, arch, syscalls, time_stamp)
VALUES (:pod_name, :pod_namespace, :arch, :syscalls, :time_stamp)
ON CONFLICT(pod_name, pod_namespace, arch) DO UPDATE SET
	syscalls = excluded.syscalls,
	time_stamp = excluded.time_stamp
`
		row := types.PodSyscalls{
			PodName:      in.PodName,
			PodNamespace: in.PodNamespace,
			Arch:         in.Arch,
			Syscalls:     strings.Join(merged, ","),
			TimeStamp:    in.TimeStamp,
		}
		if _, err := s.db.NamedExec(q, row); err != nil {
			return fmt.Errorf("upsert pod_syscalls %s: %w", in.PodName, err)
		}
	}
	return nil
}

func unionSyscalls(existingCSV string, fresh []string) []string {
	set := make(map[string]struct{})
	if existingCSV != "" {
		for _, n := range strings.Split(existingCSV, ",") {
			set[n] = struct{}{}
		}
	}
	for _, n := range fresh {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// SyscallsByPodName returns every pod_syscalls row for name (one per
// architecture observed).
func (s *Store) SyscallsByPodName(name string) ([]types.PodSyscalls, error) {
	var rows []types.PodSyscalls
	err := s.db.Select(&rows, `SELECT * FROM pod_syscalls WHERE pod_name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("list pod_syscalls for %s: %w", name, err)
	}
	return rows, nil
}

