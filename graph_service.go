package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/orian/configdesk/models"
)

// Default canvas position of a new entity.
const (
	defaultPositionX = 10
	defaultPositionY = 10
)

// editGraph loads the graph of id, applies edit and saves it back.
// It returns the stored document after the update.
func editGraph(ctx context.Context, graphs models.GraphRepository, id string, edit func(*models.Graph) error) (models.Document, error) {
	if id == "" {
		return nil, models.ErrInvalidID
	}
	doc, graph, err := graphs.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := edit(graph); err != nil {
		return nil, err
	}
	if err := graphs.Save(ctx, doc, graph); err != nil {
		return nil, err
	}
	saved, err := graphs.Find(ctx, models.Eq(models.FieldOID, doc.GetString(models.FieldOID)))
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 {
		return nil, fmt.Errorf("graph %q: %w", id, models.ErrNotFound)
	}
	return saved[0], nil
}

// newElementID mints ids for graph elements: time-based UUIDs with
// underscores instead of dashes, so they are usable as DOM ids.
func newElementID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "_")
}

// EntityInput carries the editable fields of an entity.
type EntityInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	External    bool   `json:"external"`
}

// AddEntity appends a new unlocked entity without endpoints.
func AddEntity(g *models.Graph, in EntityInput) models.Node {
	node := models.Node{
		ID:          newElementID(),
		Name:        in.Name,
		External:    in.External,
		Description: in.Description,
		PositionX:   defaultPositionX,
		PositionY:   defaultPositionY,
		Endpoints:   []models.Endpoint{},
	}
	g.Nodes = append(g.Nodes, node)
	return node
}

// UpdateEntity rewrites name, description and external flag of entity id.
func UpdateEntity(g *models.Graph, id string, in EntityInput) bool {
	i := indexByID(g.Nodes, id, func(n models.Node) string { return n.ID })
	if i < 0 {
		return false
	}
	g.Nodes[i].Name = in.Name
	g.Nodes[i].Description = in.Description
	g.Nodes[i].External = in.External
	return true
}

// RemoveEntity deletes entity id together with the interfaces attached to it.
func RemoveEntity(g *models.Graph, id string) bool {
	i := indexByID(g.Nodes, id, func(n models.Node) string { return n.ID })
	if i < 0 {
		return false
	}
	endpoints := make(map[string]bool, len(g.Nodes[i].Endpoints))
	for _, ep := range g.Nodes[i].Endpoints {
		endpoints[ep.ID] = true
	}
	g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)

	var attached []string
	for _, c := range g.Connections {
		if endpoints[c.SourceEndpointID] || endpoints[c.TargetEndpointID] {
			attached = append(attached, c.ID)
		}
	}
	for _, connID := range attached {
		RemoveInterface(g, connID)
	}
	return true
}

// InterfaceInput carries the editable fields of an interface.
type InterfaceInput struct {
	Name        string            `json:"name"`
	Elements    models.StringList `json:"elements"`
	Description string            `json:"description"`
	Protocol    string            `json:"protocol"`
	Content     string            `json:"content"`
	References  string            `json:"references"`
	Notes       string            `json:"notes"`
}

// AddInterface connects entity sourceID to entity targetID: each gets a new
// endpoint and a connection joins the two.
func AddInterface(g *models.Graph, sourceID, targetID string, in InterfaceInput) (*models.Connection, error) {
	byID := func(n models.Node) string { return n.ID }
	si := indexByID(g.Nodes, sourceID, byID)
	if si < 0 {
		return nil, fmt.Errorf("source entity %q: %w", sourceID, models.ErrNotFound)
	}
	ti := indexByID(g.Nodes, targetID, byID)
	if ti < 0 {
		return nil, fmt.Errorf("target entity %q: %w", targetID, models.ErrNotFound)
	}

	sourceEP := newElementID()
	g.Nodes[si].Endpoints = append(g.Nodes[si].Endpoints, models.Endpoint{ID: sourceEP, UUID: sourceEP, Type: models.EndpointSource})
	targetEP := newElementID()
	g.Nodes[ti].Endpoints = append(g.Nodes[ti].Endpoints, models.Endpoint{ID: targetEP, UUID: targetEP, Type: models.EndpointTarget})

	conn := models.Connection{
		ID:               newElementID(),
		SourceEndpointID: sourceEP,
		TargetEndpointID: targetEP,
		SourceEntityName: g.Nodes[si].Name,
		TargetEntityName: g.Nodes[ti].Name,
	}
	applyInterfaceInput(&conn, in)
	g.Connections = append(g.Connections, conn)
	return &conn, nil
}

// UpdateInterface rewrites the descriptive fields of connection id.
func UpdateInterface(g *models.Graph, id string, in InterfaceInput) bool {
	i := indexByID(g.Connections, id, func(c models.Connection) string { return c.ID })
	if i < 0 {
		return false
	}
	applyInterfaceInput(&g.Connections[i], in)
	return true
}

func applyInterfaceInput(c *models.Connection, in InterfaceInput) {
	c.Name = in.Name
	c.ImpactedElements = in.Elements
	c.Description = in.Description
	c.Protocol = in.Protocol
	c.Content = in.Content
	c.References = in.References
	c.Notes = in.Notes
}

// RemoveInterface deletes connection id and both of its endpoints.
func RemoveInterface(g *models.Graph, id string) bool {
	i := indexByID(g.Connections, id, func(c models.Connection) string { return c.ID })
	if i < 0 {
		return false
	}
	conn := g.Connections[i]
	g.Connections = append(g.Connections[:i], g.Connections[i+1:]...)

	for n := range g.Nodes {
		kept := g.Nodes[n].Endpoints[:0]
		for _, ep := range g.Nodes[n].Endpoints {
			if ep.ID != conn.SourceEndpointID && ep.ID != conn.TargetEndpointID {
				kept = append(kept, ep)
			}
		}
		g.Nodes[n].Endpoints = kept
	}
	return true
}

// ListServices returns the services with the external flag always set.
func ListServices(g *models.Graph) []models.Service {
	out := make([]models.Service, 0, len(g.Services))
	for _, s := range g.Services {
		if s.External == nil {
			external := false
			s.External = &external
		}
		out = append(out, s)
	}
	return out
}

// AddService appends s under a fresh id.
func AddService(g *models.Graph, s models.Service) models.Service {
	s.ID = newElementID()
	g.Services = append(g.Services, s)
	return s
}

// UpdateService replaces the service with the same id.
func UpdateService(g *models.Graph, s models.Service) bool {
	return replaceByID(g.Services, s, func(v models.Service) string { return v.ID })
}

// RemoveService deletes service id.
func RemoveService(g *models.Graph, id string) bool {
	var ok bool
	g.Services, ok = removeByID(g.Services, id, func(v models.Service) string { return v.ID })
	return ok
}

// AddServiceInterface appends si under a fresh id.
func AddServiceInterface(g *models.Graph, si models.ServiceInterface) models.ServiceInterface {
	si.ID = newElementID()
	g.Interfaces = append(g.Interfaces, si)
	return si
}

// UpdateServiceInterface replaces the service interface with the same id.
func UpdateServiceInterface(g *models.Graph, si models.ServiceInterface) bool {
	return replaceByID(g.Interfaces, si, func(v models.ServiceInterface) string { return v.ID })
}

// RemoveServiceInterface deletes service interface id.
func RemoveServiceInterface(g *models.Graph, id string) bool {
	var ok bool
	g.Interfaces, ok = removeByID(g.Interfaces, id, func(v models.ServiceInterface) string { return v.ID })
	return ok
}

// AddProcessorRelease appends pr under a fresh id.
func AddProcessorRelease(g *models.Graph, pr models.ProcessorRelease) models.ProcessorRelease {
	pr.ID = newElementID()
	g.ProcessorsReleases = append(g.ProcessorsReleases, pr)
	return pr
}

// UpdateProcessorRelease replaces the release with the same id.
func UpdateProcessorRelease(g *models.Graph, pr models.ProcessorRelease) bool {
	return replaceByID(g.ProcessorsReleases, pr, func(v models.ProcessorRelease) string { return v.ID })
}

// RemoveProcessorRelease deletes release id.
func RemoveProcessorRelease(g *models.Graph, id string) bool {
	var ok bool
	g.ProcessorsReleases, ok = removeByID(g.ProcessorsReleases, id, func(v models.ProcessorRelease) string { return v.ID })
	return ok
}

func indexByID[T any](items []T, id string, idOf func(T) string) int {
	for i, it := range items {
		if idOf(it) == id {
			return i
		}
	}
	return -1
}

func replaceByID[T any](items []T, v T, idOf func(T) string) bool {
	i := indexByID(items, idOf(v), idOf)
	if i < 0 {
		return false
	}
	items[i] = v
	return true
}

func removeByID[T any](items []T, id string, idOf func(T) string) ([]T, bool) {
	i := indexByID(items, id, idOf)
	if i < 0 {
		return items, false
	}
	return append(items[:i], items[i+1:]...), true
}

// SectionDiff lists element ids that differ between two graph versions.
type SectionDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// IsEmpty reports whether nothing differs.
func (d SectionDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// GraphDiff holds one SectionDiff per graph section.
type GraphDiff struct {
	Nodes              SectionDiff `json:"nodes"`
	Connections        SectionDiff `json:"connections"`
	Services           SectionDiff `json:"services"`
	Interfaces         SectionDiff `json:"interfaces"`
	ProcessorsReleases SectionDiff `json:"processors_releases"`
}

// DiffGraphs compares two graphs element by element, matching by id.
func DiffGraphs(from, to *models.Graph) GraphDiff {
	return GraphDiff{
		Nodes:              diffSection(from.Nodes, to.Nodes, func(v models.Node) string { return v.ID }),
		Connections:        diffSection(from.Connections, to.Connections, func(v models.Connection) string { return v.ID }),
		Services:           diffSection(from.Services, to.Services, func(v models.Service) string { return v.ID }),
		Interfaces:         diffSection(from.Interfaces, to.Interfaces, func(v models.ServiceInterface) string { return v.ID }),
		ProcessorsReleases: diffSection(from.ProcessorsReleases, to.ProcessorsReleases, func(v models.ProcessorRelease) string { return v.ID }),
	}
}

func diffSection[T any](from, to []T, idOf func(T) string) SectionDiff {
	d := SectionDiff{Added: []string{}, Removed: []string{}, Changed: []string{}}

	before := make(map[string]T, len(from))
	for _, it := range from {
		before[idOf(it)] = it
	}
	after := make(map[string]bool, len(to))
	for _, it := range to {
		id := idOf(it)
		after[id] = true
		old, ok := before[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case !cmp.Equal(old, it):
			d.Changed = append(d.Changed, id)
		}
	}
	for _, it := range from {
		if id := idOf(it); !after[id] {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}
