package agent

import (
	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/workflow"
)

// Read-only tool names executed inline by the exec_tool step. Mutation tool
// names live in the workflow package; search_knowledge routes into the
// retrieval loop.
const (
	ToolSearchKnowledge = "search_knowledge"
	ToolListProjects    = "list_projects"
	ToolListTickets     = "list_tickets"
	ToolGetTicket       = "get_ticket"
	ToolSearchUsers     = "search_users"
	ToolResolveSprint   = "resolve_sprint"
)

func isReadOnlyTool(name string) bool {
	switch name {
	case ToolListProjects, ToolListTickets, ToolGetTicket, ToolSearchUsers, ToolResolveSprint:
		return true
	}
	return false
}

// toolDefinitions declares every tool the reasoning step binds to the model.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolSearchKnowledge,
			Description: "Search project documentation to answer a question. Use for any question about processes, conventions, or project knowledge.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"query": {Type: "string", Description: "The question to answer from documentation"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolListProjects,
			Description: "List the projects visible to the user in the ticket tracker.",
			InputSchema: llm.InputSchema{Type: "object"},
		},
		{
			Name:        ToolListTickets,
			Description: "List tickets in the current project, newest first.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"limit":  {Type: "integer", Description: "Maximum tickets to return"},
					"offset": {Type: "integer", Description: "Pagination offset"},
				},
			},
		},
		{
			Name:        ToolGetTicket,
			Description: "Fetch one ticket's fields by its id.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"ticket_id": {Type: "string", Description: "Ticket id, e.g. PZ-1"},
				},
				Required: []string{"ticket_id"},
			},
		},
		{
			Name:        ToolSearchUsers,
			Description: "Search tracker users by name or email.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"query": {Type: "string", Description: "Name or email fragment"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        ToolResolveSprint,
			Description: "Resolve a sprint by name in the current project.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"name": {Type: "string", Description: "Sprint name"},
				},
				Required: []string{"name"},
			},
		},
		{
			Name:        workflow.ToolCreateTicket,
			Description: "Create a new ticket. The user will review the proposal before anything is created.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"summary":     {Type: "string", Description: "One-line ticket summary"},
					"description": {Type: "string", Description: "Ticket description"},
					"type":        {Type: "string", Description: "Issue type, e.g. Bug or Task"},
					"assignee":    {Type: "string", Description: "Assignee name"},
				},
				Required: []string{"summary"},
			},
		},
		{
			Name:        workflow.ToolUpdateTicket,
			Description: "Change fields on an existing ticket. The user will review the proposal before anything changes.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"ticket_id": {Type: "string", Description: "Ticket id to update"},
					"fields": {
						Type:        "object",
						Description: "Field names mapped to their new values",
						Properties: map[string]*llm.Property{
							"summary":     {Type: "string"},
							"description": {Type: "string"},
							"status":      {Type: "string"},
							"assignee":    {Type: "string"},
						},
					},
				},
				Required: []string{"ticket_id", "fields"},
			},
		},
		{
			Name:        workflow.ToolDeleteTicket,
			Description: "Delete a ticket. The user will review the proposal before anything is deleted.",
			InputSchema: llm.InputSchema{
				Type: "object",
				Properties: map[string]llm.Property{
					"ticket_id": {Type: "string", Description: "Ticket id to delete"},
				},
				Required: []string{"ticket_id"},
			},
		},
	}
}
