package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orian/configdesk/logger"
	"github.com/orian/configdesk/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, sinks ...models.CommitSink) http.Handler {
	t.Helper()
	conn := newTestConnector(t)
	graphs := NewGraphStore(conn, WithClock(newStepClock().Now), WithCommitSinks(sinks...))
	return NewServer(conn, graphs, NewScenarioStore(conn), logger.NewNop()).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBodyAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func graphOf(t *testing.T, rec *httptest.ResponseRecorder) *models.Graph {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decodeBodyAs[map[string]any](t, rec)
	payload, _ := doc[models.FieldGraph].(string)
	g, err := models.ParseGraph(payload)
	require.NoError(t, err)
	return g
}

func createConfiguration(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/configurations", map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sc := decodeBodyAs[models.Scenario](t, rec)
	require.NotEmpty(t, sc.ID)
	return sc.ID
}

func TestPing(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestConfigurationEndpoints(t *testing.T) {
	h := newTestServer(t)
	id := createConfiguration(t, h, "S2 ground segment")

	rec := doJSON(t, h, http.MethodPost, "/api/configurations", map[string]any{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/configurations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBodyAs[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "S2 ground segment", list[0]["name"])
	assert.NotEmpty(t, list[0]["last_modify"])
	assert.Equal(t, "", list[0]["last_commit"])

	rec = doJSON(t, h, http.MethodPut, "/api/configurations/"+id, map[string]any{"name": "renamed", "locked": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sc := decodeBodyAs[models.Scenario](t, rec)
	assert.Equal(t, "renamed", sc.Name)
	assert.True(t, sc.Locked)

	rec = doJSON(t, h, http.MethodGet, "/api/configurations/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/interfaces/"+id, nil)
	g := graphOf(t, rec)
	assert.Empty(t, g.Nodes)

	rec = doJSON(t, h, http.MethodDelete, "/api/configurations/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/configurations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/interfaces/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConfigurationValidityWindow(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/configurations", map[string]any{"name": "defaults"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBodyAs[models.Scenario](t, rec)
	require.NotNil(t, created.StartDate)
	require.NotNil(t, created.EndDate)
	assert.True(t, created.StartDate.Equal(models.DefaultScenarioStart), "start %v", created.StartDate)
	assert.True(t, created.EndDate.Equal(models.DefaultScenarioEnd), "end %v", created.EndDate)

	rec = doJSON(t, h, http.MethodGet, "/api/configurations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeBodyAs[models.Scenario](t, rec)
	require.NotNil(t, stored.EndDate)
	assert.True(t, stored.EndDate.Equal(models.DefaultScenarioEnd), "end %v", stored.EndDate)

	rec = doJSON(t, h, http.MethodPost, "/api/configurations", map[string]any{
		"name": "explicit", "startDate": "2024-01-01T00:00:00Z", "endDate": "2024-12-31T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	explicit := decodeBodyAs[models.Scenario](t, rec)
	require.NotNil(t, explicit.StartDate)
	assert.True(t, explicit.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, explicit.EndDate.Equal(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestInterfaceEditingAndVersioning(t *testing.T) {
	sink := &recordingSink{}
	h := newTestServer(t, sink)
	id := createConfiguration(t, h, "cfg")

	g := graphOf(t, doJSON(t, h, http.MethodPost, "/api/interfaces/entity", map[string]any{
		"idScenario": id, "name": "A", "description": "first", "external": true,
	}))
	require.Len(t, g.Nodes, 1)
	a := g.Nodes[0]
	assert.True(t, a.External)

	g = graphOf(t, doJSON(t, h, http.MethodPost, "/api/interfaces/entity", map[string]any{"idScenario": id, "name": "B"}))
	require.Len(t, g.Nodes, 2)
	b := g.Nodes[1]

	g = graphOf(t, doJSON(t, h, http.MethodPut, "/api/interfaces/entity", map[string]any{
		"idScenario": id, "idFragment": b.ID, "name": "B2",
	}))
	assert.Equal(t, "B2", g.Nodes[1].Name)

	g = graphOf(t, doJSON(t, h, http.MethodPost, "/api/interfaces/interface", map[string]any{
		"idScenario": id, "source": a.ID, "target": b.ID, "name": "ab",
		"elements": "S2A", "protocol": "sftp",
	}))
	require.Len(t, g.Connections, 1)
	conn := g.Connections[0]
	assert.Equal(t, models.StringList{"S2A"}, conn.ImpactedElements)
	assert.Equal(t, "B2", conn.TargetEntityName)

	rec := doJSON(t, h, http.MethodPost, "/api/interfaces/interface", map[string]any{
		"idScenario": id, "source": a.ID, "target": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	g = graphOf(t, doJSON(t, h, http.MethodPut, "/api/interfaces/interface", map[string]any{
		"idScenario": id, "id": conn.ID, "name": "ab2", "elements": []string{"S2A", "S2B"},
	}))
	assert.Equal(t, "ab2", g.Connections[0].Name)
	assert.Equal(t, models.StringList{"S2A", "S2B"}, g.Connections[0].ImpactedElements)

	// First commit.
	rec = doJSON(t, h, http.MethodPost, "/api/interfaces/commit", map[string]any{
		"idScenario": id, "tag": "draft", "comment": "first",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	committed := decodeBodyAs[map[string]any](t, rec)
	assert.Equal(t, float64(1), committed["n_ver"])
	assert.Equal(t, "DRAFT", committed["tag"])
	assert.Regexp(t, `^\d{2}/\d{2}/\d{4}, \d{2}:\d{2}:\d{2}$`, committed["last_modify"])

	// Removing A drops the interface attached to it.
	g = graphOf(t, doJSON(t, h, http.MethodDelete, "/api/interfaces/entity", map[string]any{
		"id": id, "removedEntityId": a.ID,
	}))
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Connections)

	rec = doJSON(t, h, http.MethodPost, "/api/interfaces/commit", map[string]any{"idScenario": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/interfaces/commit/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBodyAs[[]map[string]any](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, float64(2), history[0]["n_ver"])
	assert.Equal(t, "first", history[1]["comment"])

	tests := []struct {
		ref      string
		wantCode int
		wantLen  int
	}{
		{ref: "1", wantCode: http.StatusOK, wantLen: 1},
		{ref: "draft", wantCode: http.StatusOK, wantLen: 1},
		{ref: "9", wantCode: http.StatusNotFound},
		{ref: "ga", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run("ref "+tt.ref, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodGet, "/api/interfaces/commit/"+id+"/"+tt.ref, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.Len(t, decodeBodyAs[[]map[string]any](t, rec), tt.wantLen)
			}
		})
	}

	rec = doJSON(t, h, http.MethodGet, "/api/interfaces/commit/"+id+"/draft/diff/2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	diff := decodeBodyAs[GraphDiff](t, rec)
	assert.Equal(t, []string{a.ID}, diff.Nodes.Removed)
	assert.Equal(t, []string{conn.ID}, diff.Connections.Removed)
	assert.Empty(t, diff.Nodes.Added)

	rec = doJSON(t, h, http.MethodGet, "/api/configurations", nil)
	list := decodeBodyAs[[]map[string]any](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "DRAFT", list[0]["last_tag"])
	assert.Equal(t, "", list[0]["comment"])
	assert.NotEmpty(t, list[0]["last_commit"])

	require.Len(t, sink.records, 2)

	// History outlives the configuration.
	rec = doJSON(t, h, http.MethodDelete, "/api/configurations/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/interfaces/commit/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/interfaces/commit", map[string]any{"idScenario": id})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplaceGraph(t *testing.T) {
	h := newTestServer(t)
	id := createConfiguration(t, h, "cfg")

	tests := []struct {
		name      string
		graph     any
		wantCode  int
		wantNodes int
	}{
		{name: "object", graph: map[string]any{"nodes": []any{map[string]any{"id": "n1", "name": "A"}}}, wantCode: http.StatusOK, wantNodes: 1},
		{name: "string", graph: `{"nodes":[{"id":"n1"},{"id":"n2"}],"connections":[]}`, wantCode: http.StatusOK, wantNodes: 2},
		{name: "null", graph: nil, wantCode: http.StatusOK, wantNodes: 0},
		{name: "malformed string", graph: `{"nodes":`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPut, "/api/interfaces", map[string]any{"id": id, "graph": tt.graph})
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.Len(t, graphOf(t, rec).Nodes, tt.wantNodes)
			}
		})
	}
}

func TestServiceEndpoints(t *testing.T) {
	h := newTestServer(t)
	id := createConfiguration(t, h, "cfg")

	g := graphOf(t, doJSON(t, h, http.MethodPost, "/api/services", map[string]any{
		"config_id": id, "type": "LTA", "provider": "ESA", "satellite_units": "S1A",
	}))
	require.Len(t, g.Services, 1)
	svc := g.Services[0]
	assert.Nil(t, svc.External)

	g = graphOf(t, doJSON(t, h, http.MethodGet, "/api/services/"+id, nil))
	require.NotNil(t, g.Services[0].External)
	assert.False(t, *g.Services[0].External)

	g = graphOf(t, doJSON(t, h, http.MethodPut, "/api/services", map[string]any{
		"config_id": id, "id": svc.ID, "type": "PRIP", "external": true,
	}))
	assert.Equal(t, "PRIP", g.Services[0].Type)
	assert.True(t, g.Services[0].IsExternal())

	g = graphOf(t, doJSON(t, h, http.MethodPost, "/api/services/interfaces", map[string]any{
		"config_id": id, "source_service_id": svc.ID, "target_service_id": "other",
	}))
	require.Len(t, g.Interfaces, 1)
	si := g.Interfaces[0]

	g = graphOf(t, doJSON(t, h, http.MethodPut, "/api/services/interfaces", map[string]any{
		"config_id": id, "id": si.ID, "status": "operational",
	}))
	assert.Equal(t, "operational", g.Interfaces[0].Status)

	g = graphOf(t, doJSON(t, h, http.MethodDelete, "/api/services/interfaces", map[string]any{
		"config_id": id, "interface_id": si.ID,
	}))
	assert.Empty(t, g.Interfaces)

	rec := doJSON(t, h, http.MethodDelete, "/api/services", map[string]any{"config_id": id, "service_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	g = graphOf(t, doJSON(t, h, http.MethodDelete, "/api/services", map[string]any{"config_id": id, "service_id": svc.ID}))
	assert.Empty(t, g.Services)
}

func TestProcessorReleaseEndpoints(t *testing.T) {
	h := newTestServer(t)
	id := createConfiguration(t, h, "cfg")

	rec := doJSON(t, h, http.MethodGet, "/api/processors-releases/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	g := graphOf(t, doJSON(t, h, http.MethodPost, "/api/processors-releases", map[string]any{
		"config_id": id, "mission": "S2", "release_date": "2024-05-01", "target_ipfs": []string{"L1C", "L2A"},
	}))
	require.Len(t, g.ProcessorsReleases, 1)
	pr := g.ProcessorsReleases[0]
	assert.Equal(t, "2024-05-01", pr.ValidityStartDate)

	g = graphOf(t, doJSON(t, h, http.MethodPut, "/api/processors-releases", map[string]any{
		"config_id": id, "id": pr.ID, "mission": "S2", "processing_baseline": "05.11",
	}))
	assert.Equal(t, "05.11", g.ProcessorsReleases[0].ProcessingBaseline)

	rec = doJSON(t, h, http.MethodGet, "/api/processors-releases/"+id, nil)
	releases := decodeBodyAs[[]models.ProcessorRelease](t, rec)
	require.Len(t, releases, 1)

	g = graphOf(t, doJSON(t, h, http.MethodDelete, "/api/processors-releases", map[string]any{
		"config_id": id, "processor_release_id": pr.ID,
	}))
	assert.Empty(t, g.ProcessorsReleases)
}

func TestErrorResponses(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
	}{
		{name: "malformed json", method: http.MethodPost, path: "/api/interfaces/commit", body: "{", wantCode: http.StatusBadRequest},
		{name: "commit without id", method: http.MethodPost, path: "/api/interfaces/commit", body: map[string]any{}, wantCode: http.StatusBadRequest},
		{name: "commit unknown id", method: http.MethodPost, path: "/api/interfaces/commit", body: map[string]any{"idScenario": "ghost"}, wantCode: http.StatusNotFound},
		{name: "history unknown id", method: http.MethodGet, path: "/api/interfaces/commit/ghost", wantCode: http.StatusNotFound},
		{name: "graph unknown id", method: http.MethodGet, path: "/api/interfaces/ghost", wantCode: http.StatusNotFound},
		{name: "edit unknown id", method: http.MethodPost, path: "/api/interfaces/entity", body: map[string]any{"idScenario": "ghost"}, wantCode: http.StatusNotFound},
		{name: "edit without id", method: http.MethodPost, path: "/api/services", body: map[string]any{}, wantCode: http.StatusBadRequest},
		{name: "scenario unknown id", method: http.MethodDelete, path: "/api/configurations/ghost", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := decodeBodyAs[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrNothingToCommit, http.StatusNotFound},
		{models.ErrInvalidID, http.StatusBadRequest},
		{notFound("entity", "x"), http.StatusNotFound},
		{badRequest(models.ErrNotFound), http.StatusBadRequest},
		{&apiError{Status: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
