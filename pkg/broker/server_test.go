package broker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kguardian-dev/kguardian/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewServer(store), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_UpsertAndMarkDead(t *testing.T) {
	srv, _ := newTestServer(t)

	pod := types.PodDetail{PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5", NodeName: "node-1", PodObj: "{}", TimeStamp: time.Now().UTC()}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/pod/spec", pod)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/pod/list/node-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var pods []types.PodDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pods))
	assert.Len(t, pods, 1)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/pod/mark_dead", types.MarkDeadRequest{PodName: "web-0"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/pod/list/node-1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pods))
	assert.Len(t, pods, 0)
}

func TestServer_TrafficBatch_ReportsInsertedCount(t *testing.T) {
	srv, _ := newTestServer(t)

	batch := []types.PodTraffic{
		{UUID: "u1", PodName: "web-0", PodNamespace: "default", PodIP: "10.0.0.5", PodPort: "8080", TrafficType: types.TrafficIngress.String(), RemoteIP: "10.0.0.9", RemotePort: "0", Decision: types.DecisionAllow.String(), IPProtocol: types.ProtocolTCP.String(), TimeStamp: time.Now().UTC()},
	}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/pod/traffic/batch", batch)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["inserted"])
}

func TestServer_PodByIP_NotFoundIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/pod/by_ip/10.0.0.99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_WrongMethodIs405(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/pod/spec", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SyscallsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	batch := []types.PodInputSyscalls{{PodName: "web-0", PodNamespace: "default", Arch: "amd64", Syscalls: []string{"0", "1"}, TimeStamp: time.Now().UTC()}}
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/pod/syscalls", batch)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/pod/syscalls/web-0", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var rows []types.PodSyscalls
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "amd64", rows[0].Arch)
}
