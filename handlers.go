package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/orian/configdesk/models"
)

// apiError carries the HTTP status an error should be reported with.
type apiError struct {
	Status int
	Code   string
	Err    error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *apiError) Unwrap() error { return e.Err }

func badRequest(err error) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "bad_request", Err: err}
}

// statusFor maps an error to its HTTP status and code.
func statusFor(err error) (int, string) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae.Status, ae.Code
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNothingToCommit):
		return http.StatusNotFound, "nothing_to_commit"
	case errors.Is(err, models.ErrInvalidID), errors.Is(err, models.ErrInvalidField):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

// renderDocument prepares a document for the API: timestamps are shown
// in the DD/MM/YYYY, HH:MM:SS layout.
func renderDocument(doc models.Document) models.Document {
	out := doc.Clone()
	for k, v := range out {
		if t, ok := v.(time.Time); ok {
			out[k] = models.FormatTimestamp(t)
		}
	}
	return out
}

func renderDocuments(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, renderDocument(d))
	}
	return out
}

func formatOptional(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return models.FormatTimestamp(*t)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	err := s.conn.Do(r.Context(), func(db *sql.DB) error {
		return db.PingContext(r.Context())
	})
	if err != nil {
		s.writeError(w, r, &apiError{Status: http.StatusServiceUnavailable, Code: "store_unavailable", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// configurationView is a scenario enriched with its graph commit state.
type configurationView struct {
	*models.Scenario
	LastModify string `json:"last_modify"`
	LastCommit string `json:"last_commit"`
	Comment    string `json:"comment"`
	LastTag    string `json:"last_tag"`
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.scenarios.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]configurationView, 0, len(scenarios))
	for _, sc := range scenarios {
		summary, err := s.graphs.Summary(r.Context(), sc.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views = append(views, configurationView{
			Scenario:   sc,
			LastModify: formatOptional(&summary.LastModify),
			LastCommit: formatOptional(summary.LastCommit),
			Comment:    summary.Comment,
			LastTag:    summary.LastTag,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req models.Scenario
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, r, badRequest(errors.New("name is required")))
		return
	}
	if req.StartDate == nil {
		start := models.DefaultScenarioStart
		req.StartDate = &start
	}
	if req.EndDate == nil {
		end := models.DefaultScenarioEnd
		req.EndDate = &end
	}

	sc, err := s.scenarios.Create(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.graphs.Create(r.Context(), sc.ID); err != nil {
		if derr := s.scenarios.Delete(r.Context(), sc.ID); derr != nil {
			s.log.Warn("Failed to roll back scenario", "id", sc.ID, "error", derr)
		}
		s.writeError(w, r, err)
		return
	}
	s.log.Info("Created configuration", "id", sc.ID, "name", sc.Name)
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scenarios.Get(r.Context(), chi.URLParam(r, "configId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req models.Scenario
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "configId")
	sc, err := s.scenarios.Update(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleDeleteConfiguration removes the scenario and its live graph. The
// version trail stays.
func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "configId")
	if err := s.scenarios.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.graphs.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	doc, _, err := s.graphs.Load(r.Context(), chi.URLParam(r, "configId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderDocument(doc))
}

// handleReplaceGraph stores a whole new graph payload. The payload may be
// sent as a JSON object or as a string holding one.
func (s *Server) handleReplaceGraph(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string          `json:"id"`
		Graph json.RawMessage `json:"graph"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payload, err := graphPayload(req.Graph)
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if _, err := s.graphs.Replace(r.Context(), req.ID, payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, _, err := s.graphs.Load(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderDocument(doc))
}

func graphPayload(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyGraphPayload, nil
	}
	payload := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", err
		}
	}
	if _, err := models.ParseGraph(payload); err != nil {
		return "", err
	}
	return payload, nil
}

// respondEdit runs edit against the graph of configID and writes the result.
func (s *Server) respondEdit(w http.ResponseWriter, r *http.Request, configID string, edit func(*models.Graph) error) {
	doc, err := editGraph(r.Context(), s.graphs, configID, edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderDocument(doc))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, models.ErrNotFound)
}

type entityRequest struct {
	ScenarioID      string `json:"idScenario"`
	ID              string `json:"id"`
	FragmentID      string `json:"idFragment"`
	RemovedEntityID string `json:"removedEntityId"`
	EntityInput
}

func (e entityRequest) configID() string {
	if e.ScenarioID != "" {
		return e.ScenarioID
	}
	return e.ID
}

func (s *Server) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.configID(), func(g *models.Graph) error {
		AddEntity(g, req.EntityInput)
		return nil
	})
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.configID(), func(g *models.Graph) error {
		if !UpdateEntity(g, req.FragmentID, req.EntityInput) {
			return notFound("entity", req.FragmentID)
		}
		return nil
	})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.configID(), func(g *models.Graph) error {
		if !RemoveEntity(g, req.RemovedEntityID) {
			return notFound("entity", req.RemovedEntityID)
		}
		return nil
	})
}

type interfaceRequest struct {
	ScenarioID  string `json:"idScenario"`
	ID          string `json:"id"`
	InterfaceID string `json:"idInterface"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	InterfaceInput
}

func (s *Server) handleAddInterface(w http.ResponseWriter, r *http.Request) {
	var req interfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ScenarioID, func(g *models.Graph) error {
		_, err := AddInterface(g, req.Source, req.Target, req.InterfaceInput)
		return err
	})
}

func (s *Server) handleUpdateInterface(w http.ResponseWriter, r *http.Request) {
	var req interfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ScenarioID, func(g *models.Graph) error {
		if !UpdateInterface(g, req.ID, req.InterfaceInput) {
			return notFound("interface", req.ID)
		}
		return nil
	})
}

func (s *Server) handleDeleteInterface(w http.ResponseWriter, r *http.Request) {
	var req interfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ScenarioID, func(g *models.Graph) error {
		if !RemoveInterface(g, req.InterfaceID) {
			return notFound("interface", req.InterfaceID)
		}
		return nil
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"idScenario"`
		Tag        string `json:"tag"`
		Comment    string `json:"comment"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.graphs.Commit(r.Context(), req.ScenarioID, req.Tag, req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renderDocument(rec.Document()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configId")
	versions, err := s.graphs.History(r.Context(), configID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(versions) == 0 {
		s.writeError(w, r, notFound("history of", configID))
		return
	}
	writeJSON(w, http.StatusOK, renderDocuments(versions))
}

func (s *Server) handleVersionsByRef(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configId")
	ref := chi.URLParam(r, "ref")
	versions, err := s.graphs.VersionsByRef(r.Context(), configID, ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(versions) == 0 {
		s.writeError(w, r, notFound("version", ref))
		return
	}
	writeJSON(w, http.StatusOK, renderDocuments(versions))
}

func (s *Server) handleVersionDiff(w http.ResponseWriter, r *http.Request) {
	configID := chi.URLParam(r, "configId")
	from, err := s.versionGraph(r, configID, chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := s.versionGraph(r, configID, chi.URLParam(r, "to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DiffGraphs(from, to))
}

// versionGraph parses the graph of the newest version matching ref.
func (s *Server) versionGraph(r *http.Request, configID, ref string) (*models.Graph, error) {
	if nVer, _, isNumber := models.ParseVersionRef(ref); isNumber {
		doc, err := s.graphs.Version(r.Context(), configID, nVer)
		if err != nil {
			return nil, err
		}
		return committedGraph(models.VersionRecordFromDocument(doc))
	}
	versions, err := s.graphs.VersionsByRef(r.Context(), configID, ref)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, notFound("version", ref)
	}
	return committedGraph(models.VersionRecordFromDocument(versions[0]))
}

// handleGetServices returns the graph document with every service's
// external flag filled in.
func (s *Server) handleGetServices(w http.ResponseWriter, r *http.Request) {
	doc, graph, err := s.graphs.Load(r.Context(), chi.URLParam(r, "configId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	graph.Services = ListServices(graph)
	payload, err := graph.Encode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc[models.FieldGraph] = payload
	writeJSON(w, http.StatusOK, renderDocument(doc))
}

type serviceRequest struct {
	ConfigID  string `json:"config_id"`
	ServiceID string `json:"service_id"`
	models.Service
}

func (s *Server) handleAddService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		AddService(g, req.Service)
		return nil
	})
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !UpdateService(g, req.Service) {
			return notFound("service", req.ID)
		}
		return nil
	})
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !RemoveService(g, req.ServiceID) {
			return notFound("service", req.ServiceID)
		}
		return nil
	})
}

type serviceInterfaceRequest struct {
	ConfigID    string `json:"config_id"`
	InterfaceID string `json:"interface_id"`
	models.ServiceInterface
}

func (s *Server) handleAddServiceInterface(w http.ResponseWriter, r *http.Request) {
	var req serviceInterfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		AddServiceInterface(g, req.ServiceInterface)
		return nil
	})
}

func (s *Server) handleUpdateServiceInterface(w http.ResponseWriter, r *http.Request) {
	var req serviceInterfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !UpdateServiceInterface(g, req.ServiceInterface) {
			return notFound("service interface", req.ID)
		}
		return nil
	})
}

func (s *Server) handleDeleteServiceInterface(w http.ResponseWriter, r *http.Request) {
	var req serviceInterfaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !RemoveServiceInterface(g, req.InterfaceID) {
			return notFound("service interface", req.InterfaceID)
		}
		return nil
	})
}

func (s *Server) handleGetProcessorReleases(w http.ResponseWriter, r *http.Request) {
	_, graph, err := s.graphs.Load(r.Context(), chi.URLParam(r, "configId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	releases := graph.ProcessorsReleases
	if releases == nil {
		releases = []models.ProcessorRelease{}
	}
	writeJSON(w, http.StatusOK, releases)
}

type processorReleaseRequest struct {
	ConfigID           string `json:"config_id"`
	ProcessorReleaseID string `json:"processor_release_id"`
	models.ProcessorRelease
}

func (s *Server) handleAddProcessorRelease(w http.ResponseWriter, r *http.Request) {
	var req processorReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if req.ValidityStartDate == "" {
			req.ValidityStartDate = req.ReleaseDate
		}
		AddProcessorRelease(g, req.ProcessorRelease)
		return nil
	})
}

func (s *Server) handleUpdateProcessorRelease(w http.ResponseWriter, r *http.Request) {
	var req processorReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !UpdateProcessorRelease(g, req.ProcessorRelease) {
			return notFound("processor release", req.ID)
		}
		return nil
	})
}

func (s *Server) handleDeleteProcessorRelease(w http.ResponseWriter, r *http.Request) {
	var req processorReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondEdit(w, r, req.ConfigID, func(g *models.Graph) error {
		if !RemoveProcessorRelease(g, req.ProcessorReleaseID) {
			return notFound("processor release", req.ProcessorReleaseID)
		}
		return nil
	})
}
