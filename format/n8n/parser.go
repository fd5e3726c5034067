package n8n

import (
	"fmt"
	"sort"

	"github.com/Tsinling0525/weir/model"
)

// N8nWorkflow represents the n8n workflow format
type N8nWorkflow struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Active      bool                      `json:"active"`
	Nodes       []N8nNode                 `json:"nodes"`
	Connections map[string]N8nConnections `json:"connections"`
	Settings    map[string]interface{}    `json:"settings"`
}

// N8nNode represents an n8n node
type N8nNode struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	TypeVersion float64                `json:"typeVersion"`
	Position    []float64              `json:"position"`
	Parameters  map[string]interface{} `json:"parameters"`
	Credentials map[string]interface{} `json:"credentials"`
}

// N8nConnections represents n8n node connections
type N8nConnections struct {
	Main [][]N8nConnection `json:"main"`
}

// N8nConnection represents a single connection
type N8nConnection struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// N8nRequest represents the full n8n API request
type N8nRequest struct {
	Workflow N8nWorkflow            `json:"workflow"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ParseWorkflow converts an n8n workflow into a definition. Nodes become
// activities and main connections become unconditioned transitions.
// Connections may name nodes by id or by name. Nodes without outgoing
// connections are end activities; the first node without incoming
// connections is the start activity.
func ParseWorkflow(n8nWF N8nWorkflow) (model.WorkflowDefinition, error) {
	def := model.WorkflowDefinition{
		ID:   model.ID(n8nWF.ID),
		Name: n8nWF.Name,
	}
	ids := make(map[string]model.ID, len(n8nWF.Nodes)*2)
	for _, n := range n8nWF.Nodes {
		id := n.ID
		if id == "" {
			id = n.Name
		}
		if id == "" {
			return model.WorkflowDefinition{}, fmt.Errorf("n8n: node without id or name")
		}
		ids[id] = model.ID(id)
		if n.Name != "" {
			if _, taken := ids[n.Name]; !taken {
				ids[n.Name] = model.ID(id)
			}
		}

		cfg := make(map[string]any, len(n.Parameters)+3)
		for k, v := range n.Parameters {
			cfg[k] = v
		}
		if len(n.Credentials) > 0 {
			cfg["_credentials"] = n.Credentials
		}
		cfg["_n8n_typeVersion"] = n.TypeVersion
		cfg["_n8n_position"] = n.Position
		def.Activities = append(def.Activities, model.Activity{
			ID:       model.ID(id),
			Name:     n.Name,
			NodeType: n.Type,
			Config:   cfg,
		})
	}

	// Map iteration order is random; sort so transition ids are stable.
	froms := make([]string, 0, len(n8nWF.Connections))
	for from := range n8nWF.Connections {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	outgoing := map[model.ID]bool{}
	incoming := map[model.ID]bool{}
	for _, fromKey := range froms {
		from, ok := ids[fromKey]
		if !ok {
			return model.WorkflowDefinition{}, fmt.Errorf("n8n: connection from unknown node %q", fromKey)
		}
		for group, conns := range n8nWF.Connections[fromKey].Main {
			for i, c := range conns {
				to, ok := ids[c.Node]
				if !ok {
					return model.WorkflowDefinition{}, fmt.Errorf("n8n: connection from %q to unknown node %q", fromKey, c.Node)
				}
				def.Transitions = append(def.Transitions, model.Transition{
					ID:   model.ID(fmt.Sprintf("%s-%d-%d", from, group, i)),
					From: from,
					To:   to,
				})
				outgoing[from] = true
				incoming[to] = true
			}
		}
	}

	for i := range def.Activities {
		a := &def.Activities[i]
		a.End = !outgoing[a.ID]
		if def.StartActivityID == "" && !incoming[a.ID] {
			def.StartActivityID = a.ID
			a.Start = true
		}
	}
	return def, nil
}

// ParseInputData returns the trigger data for the start activity: the first
// item listed under its id or name.
func ParseInputData(def model.WorkflowDefinition, data map[string]interface{}) map[string]any {
	start, ok := def.StartActivity()
	if !ok {
		return nil
	}
	for _, key := range []string{string(start.ID), start.Name} {
		items, ok := data[key].([]interface{})
		if !ok || len(items) == 0 {
			continue
		}
		if item, ok := items[0].(map[string]interface{}); ok {
			return item
		}
	}
	return nil
}

// ToDefinition converts a full n8n request into a definition and the
// trigger data to start it with.
func ToDefinition(n8nReq N8nRequest) (model.WorkflowDefinition, map[string]any, error) {
	def, err := ParseWorkflow(n8nReq.Workflow)
	if err != nil {
		return model.WorkflowDefinition{}, nil, err
	}
	data := ParseInputData(def, n8nReq.Data)
	if data == nil {
		data = map[string]any{"trigger": "manual"}
	}
	return def, data, nil
}

// GetN8nMetadata extracts n8n-specific metadata from an imported activity
func GetN8nMetadata(act model.Activity) (typeVersion float64, position []float64, credentials map[string]interface{}) {
	if act.Config != nil {
		if tv, ok := act.Config["_n8n_typeVersion"].(float64); ok {
			typeVersion = tv
		}
		if pos, ok := act.Config["_n8n_position"].([]float64); ok {
			position = pos
		}
		if creds, ok := act.Config["_credentials"].(map[string]interface{}); ok {
			credentials = creds
		}
	}
	return typeVersion, position, credentials
}
