package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/types"
)

// Server is the broker's HTTP surface (C8), one handler per route in the
// shape of the teacher's pkg/api.HealthServer: a *http.ServeMux built in
// the constructor, handler-per-route, explicit method checks, JSON
// request/response bodies.
type Server struct {
	store  *Store
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer builds the broker's ServeMux over store.
func NewServer(store *Store) *Server {
	s := &Server{store: store, mux: http.NewServeMux(), logger: log.WithComponent("broker.server")}

	s.mux.HandleFunc("/pod/spec", s.handleUpsertPod)
	s.mux.HandleFunc("/svc/spec", s.handleUpsertSvc)
	s.mux.HandleFunc("/pod/traffic", s.handleTraffic)
	s.mux.HandleFunc("/pod/traffic/batch", s.handleTrafficBatch)
	s.mux.HandleFunc("/pod/packet_drop/batch", s.handlePacketDropBatch)
	s.mux.HandleFunc("/pod/syscalls", s.handleSyscalls)
	s.mux.HandleFunc("/pod/mark_dead", s.handleMarkDead)
	s.mux.HandleFunc("/pod/list/", s.handlePodList)
	s.mux.HandleFunc("/pod/by_ip/", s.handlePodByIP)
	s.mux.HandleFunc("/svc/by_ip/", s.handleSvcByIP)
	s.mux.HandleFunc("/pod/traffic/", s.handleTrafficByPodName)
	s.mux.HandleFunc("/pod/syscalls/", s.handleSyscallsByPodName)
	s.mux.HandleFunc("/pod/details/", s.handlePodDetails)
	s.mux.HandleFunc("/health", metrics.HealthHandler())
	s.mux.HandleFunc("/ready", metrics.ReadyHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the HTTP handler for embedding in an http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs a blocking HTTP server on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) record(route string, status int) {
	metrics.BrokerIngestRequestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func (s *Server) handleUpsertPod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var pod types.PodDetail
	if err := json.NewDecoder(r.Body).Decode(&pod); err != nil {
		s.record("/pod/spec", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	out, err := s.store.UpsertPodDetail(pod)
	if err != nil {
		s.logger.Error().Err(err).Msg("upsert pod detail failed")
		s.record("/pod/spec", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/spec", http.StatusOK)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertSvc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var svc types.SvcDetail
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		s.record("/svc/spec", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	out, err := s.store.UpsertSvcDetail(svc)
	if err != nil {
		s.logger.Error().Err(err).Msg("upsert svc detail failed")
		s.record("/svc/spec", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/svc/spec", http.StatusOK)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var t types.PodTraffic
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.record("/pod/traffic", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inserted, err := s.store.InsertTraffic(t)
	if err != nil {
		s.logger.Error().Err(err).Msg("insert traffic failed")
		s.record("/pod/traffic", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !inserted {
		metrics.BrokerIngestDuplicatesTotal.WithLabelValues("pod_traffic").Inc()
	}
	s.record("/pod/traffic", http.StatusOK)
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTrafficBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var batch []types.PodTraffic
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.record("/pod/traffic/batch", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inserted, err := s.store.InsertTrafficBatch(batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("insert traffic batch failed")
		s.record("/pod/traffic/batch", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dup := len(batch) - inserted; dup > 0 {
		metrics.BrokerIngestDuplicatesTotal.WithLabelValues("pod_traffic").Add(float64(dup))
	}
	s.record("/pod/traffic/batch", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

func (s *Server) handlePacketDropBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var batch []types.PodPacketDrop
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.record("/pod/packet_drop/batch", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inserted, err := s.store.InsertPacketDropBatch(batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("insert packet drop batch failed")
		s.record("/pod/packet_drop/batch", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if dup := len(batch) - inserted; dup > 0 {
		metrics.BrokerIngestDuplicatesTotal.WithLabelValues("pod_packet_drop").Add(float64(dup))
	}
	s.record("/pod/packet_drop/batch", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

func (s *Server) handleSyscalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var batch []types.PodInputSyscalls
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.record("/pod/syscalls", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.store.UpsertSyscalls(batch); err != nil {
		s.logger.Error().Err(err).Msg("upsert syscalls failed")
		s.record("/pod/syscalls", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/syscalls", http.StatusOK)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMarkDead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req types.MarkDeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.record("/pod/mark_dead", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	rows, err := s.store.MarkPodDead(req.PodName)
	if err != nil {
		s.logger.Error().Err(err).Msg("mark pod dead failed")
		s.record("/pod/mark_dead", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/mark_dead", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]int64{"rows_updated": rows})
}

func (s *Server) handlePodList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	node := strings.TrimPrefix(r.URL.Path, "/pod/list/")
	if node == "" {
		writeError(w, http.StatusBadRequest, "missing node name")
		return
	}
	pods, err := s.store.AlivePodsOnNode(node)
	if err != nil {
		s.logger.Error().Err(err).Msg("list alive pods failed")
		s.record("/pod/list", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/list", http.StatusOK)
	writeJSON(w, http.StatusOK, pods)
}

func (s *Server) handlePodByIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ip := strings.TrimPrefix(r.URL.Path, "/pod/by_ip/")
	pod, err := s.store.PodDetailByIP(ip)
	if errors.Is(err, sql.ErrNoRows) {
		s.record("/pod/by_ip", http.StatusNotFound)
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("get pod by ip failed")
		s.record("/pod/by_ip", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/by_ip", http.StatusOK)
	writeJSON(w, http.StatusOK, pod)
}

func (s *Server) handleSvcByIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ip := strings.TrimPrefix(r.URL.Path, "/svc/by_ip/")
	svc, err := s.store.SvcDetailByIP(ip)
	if errors.Is(err, sql.ErrNoRows) {
		s.record("/svc/by_ip", http.StatusNotFound)
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("get svc by ip failed")
		s.record("/svc/by_ip", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/svc/by_ip", http.StatusOK)
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleTrafficByPodName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/pod/traffic/")
	rows, err := s.store.TrafficByPodName(name)
	if err != nil {
		s.logger.Error().Err(err).Msg("list traffic by pod name failed")
		s.record("/pod/traffic/name", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/traffic/name", http.StatusOK)
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSyscallsByPodName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/pod/syscalls/")
	rows, err := s.store.SyscallsByPodName(name)
	if err != nil {
		s.logger.Error().Err(err).Msg("list syscalls by pod name failed")
		s.record("/pod/syscalls/name", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/syscalls/name", http.StatusOK)
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePodDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/pod/details/")
	pod, err := s.store.PodDetailByName(name)
	if errors.Is(err, sql.ErrNoRows) {
		s.record("/pod/details", http.StatusNotFound)
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("get pod details failed")
		s.record("/pod/details", http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.record("/pod/details", http.StatusOK)
	writeJSON(w, http.StatusOK, pod)
}
