package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Graph is the parsed configuration payload stored in a graph document's
// "graph" field. Top-level keys it does not know about are kept verbatim.
type Graph struct {
	Nodes              []Node
	Connections        []Connection
	Services           []Service
	Interfaces         []ServiceInterface
	ProcessorsReleases []ProcessorRelease

	extra map[string]json.RawMessage
}

var graphKeys = map[string]bool{
	"nodes":               true,
	"connections":         true,
	"services":            true,
	"interfaces":          true,
	"processors_releases": true,
}

// ParseGraph decodes a payload string. An empty payload is an empty graph.
func ParseGraph(payload string) (*Graph, error) {
	g := &Graph{}
	if strings.TrimSpace(payload) == "" {
		return g, nil
	}
	if err := json.Unmarshal([]byte(payload), g); err != nil {
		return nil, fmt.Errorf("failed to parse graph: %w", err)
	}
	return g, nil
}

// Encode serializes the graph back to its payload string.
func (g *Graph) Encode() (string, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode graph: %w", err)
	}
	return string(raw), nil
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Graph{}
	fields := map[string]any{
		"nodes":               &out.Nodes,
		"connections":         &out.Connections,
		"services":            &out.Services,
		"interfaces":          &out.Interfaces,
		"processors_releases": &out.ProcessorsReleases,
	}
	for key, val := range raw {
		target, ok := fields[key]
		if !ok {
			if out.extra == nil {
				out.extra = make(map[string]json.RawMessage)
			}
			out.extra[key] = val
			continue
		}
		if err := json.Unmarshal(val, target); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	*g = out
	return nil
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.extra)+5)
	for k, v := range g.extra {
		if !graphKeys[k] {
			out[k] = v
		}
	}
	out["nodes"] = nonNil(g.Nodes)
	out["connections"] = nonNil(g.Connections)
	if g.Services != nil {
		out["services"] = g.Services
	}
	if g.Interfaces != nil {
		out["interfaces"] = g.Interfaces
	}
	if g.ProcessorsReleases != nil {
		out["processors_releases"] = g.ProcessorsReleases
	}
	return json.Marshal(out)
}

// ExtraKeys lists the preserved top-level keys, sorted.
func (g *Graph) ExtraKeys() []string {
	keys := make([]string, 0, len(g.extra))
	for k := range g.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Node is a ground-segment entity drawn on the interface diagram.
type Node struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	External    bool       `json:"external"`
	Description string     `json:"description"`
	Locked      bool       `json:"locked"`
	PositionX   float64    `json:"positionX"`
	PositionY   float64    `json:"positionY"`
	Endpoints   []Endpoint `json:"endpoints"`
}

// Endpoint types.
const (
	EndpointSource = "source"
	EndpointTarget = "target"
)

// Endpoint is one end of a connection, attached to a node.
type Endpoint struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

// Connection is an interface between two entities.
type Connection struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	SourceEndpointID string     `json:"source_ep_id"`
	TargetEndpointID string     `json:"target_ep_id"`
	SourceEntityName string     `json:"source_entity_name"`
	TargetEntityName string     `json:"target_entity_name"`
	ImpactedElements StringList `json:"impacted_elements"`
	Description      string     `json:"description"`
	Protocol         string     `json:"protocol"`
	Content          string     `json:"content"`
	References       string     `json:"references"`
	Notes            string     `json:"notes"`
}

// Service is a provider-side service offered to the mission.
type Service struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Provider        string     `json:"provider"`
	External        *bool      `json:"external,omitempty"`
	SatelliteUnits  StringList `json:"satellite_units"`
	InterfacePoint  StringList `json:"interface_point"`
	CloudProvider   string     `json:"cloud_provider"`
	RollingPeriod   string     `json:"rolling_period"`
	OperationalIPFs string     `json:"operational_ipfs"`
	References      string     `json:"references"`
}

// IsExternal reports the external flag, false when unset.
func (s Service) IsExternal() bool {
	return s.External != nil && *s.External
}

// ServiceInterface links two services.
type ServiceInterface struct {
	ID              string     `json:"id"`
	SourceServiceID string     `json:"source_service_id"`
	TargetServiceID string     `json:"target_service_id"`
	SatelliteUnits  StringList `json:"satellite_units"`
	Status          string     `json:"status"`
}

// ProcessorRelease records a processor baseline delivered for a mission.
type ProcessorRelease struct {
	ID                 string     `json:"id"`
	Mission            string     `json:"mission"`
	SatelliteUnits     StringList `json:"satellite_units"`
	TargetIPFs         StringList `json:"target_ipfs"`
	ProcessingBaseline string     `json:"processing_baseline"`
	ReleaseDate        string     `json:"release_date"`
	ValidityStartDate  string     `json:"validity_start_date"`
	ValidityEndDate    string     `json:"validity_end_date"`
	ReleaseNotes       string     `json:"release_notes"`
}

// StringList is a list of strings that also decodes from a single string
// or from null, as multi-select form fields send either.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = StringList{}
		} else {
			*l = StringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
