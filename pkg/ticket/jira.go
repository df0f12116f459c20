package ticket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// jiraClient talks to the Jira Cloud REST API (v2 core, agile 1.0 for
// sprints) using basic auth with account email + API token.
type jiraClient struct {
	hc      *http.Client
	cred    Credential
	project string
	base    string
}

func newJiraClient(hc *http.Client, cred Credential, project string) *jiraClient {
	base := cred.Domain
	if !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return &jiraClient{
		hc:      hc,
		cred:    cred,
		project: project,
		base:    strings.TrimRight(base, "/"),
	}
}

func (c *jiraClient) Tracker() TrackerType { return TrackerJira }

func (c *jiraClient) get(ctx context.Context, path string, out any, ticketScoped bool) error {
	return doJSON(ctx, c.hc, http.MethodGet, c.base+path, c.cred.Email, c.cred.Secret, "", nil, out, ticketScoped)
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Assignee struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
	} `json:"fields"`
}

func (i *jiraIssue) toTicket() Ticket {
	return Ticket{
		ID:          i.Key,
		Summary:     i.Fields.Summary,
		Description: i.Fields.Description,
		Status:      i.Fields.Status.Name,
		Type:        i.Fields.IssueType.Name,
		Assignee:    i.Fields.Assignee.DisplayName,
	}
}

func (c *jiraClient) ListProjects(ctx context.Context) ([]Project, error) {
	var raw []struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/rest/api/2/project", &raw, false); err != nil {
		return nil, fmt.Errorf("jira: list projects: %w", err)
	}
	projects := make([]Project, len(raw))
	for i, p := range raw {
		projects[i] = Project{ID: p.ID, Key: p.Key, Name: p.Name}
	}
	return projects, nil
}

func (c *jiraClient) ListTickets(ctx context.Context, opts ListOptions) (*TicketPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	jql := fmt.Sprintf(`project = "%s" ORDER BY created DESC`, c.project)
	path := fmt.Sprintf("/rest/api/2/search?jql=%s&startAt=%d&maxResults=%d",
		url.QueryEscape(jql), opts.Offset, opts.Limit)

	var raw struct {
		Total  int         `json:"total"`
		Issues []jiraIssue `json:"issues"`
	}
	if err := c.get(ctx, path, &raw, false); err != nil {
		return nil, fmt.Errorf("jira: list tickets: %w", err)
	}

	page := &TicketPage{Total: raw.Total, Offset: opts.Offset}
	for i := range raw.Issues {
		page.Tickets = append(page.Tickets, raw.Issues[i].toTicket())
	}
	return page, nil
}

func (c *jiraClient) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var raw jiraIssue
	if err := c.get(ctx, "/rest/api/2/issue/"+url.PathEscape(id), &raw, true); err != nil {
		return nil, fmt.Errorf("jira: get ticket %s: %w", id, err)
	}
	t := raw.toTicket()
	return &t, nil
}

// jiraFields maps the uniform field names onto Jira's create/update shape.
func (c *jiraClient) jiraFields(fields map[string]string, includeProject bool) map[string]any {
	out := make(map[string]any)
	if includeProject {
		out["project"] = map[string]string{"key": c.project}
		issueType := fields["type"]
		if issueType == "" {
			issueType = "Task"
		}
		out["issuetype"] = map[string]string{"name": issueType}
	} else if t, ok := fields["type"]; ok {
		out["issuetype"] = map[string]string{"name": t}
	}
	if v, ok := fields["summary"]; ok {
		out["summary"] = v
	}
	if v, ok := fields["description"]; ok {
		out["description"] = v
	}
	if v, ok := fields["assignee"]; ok {
		out["assignee"] = map[string]string{"name": v}
	}
	return out
}

func (c *jiraClient) CreateTicket(ctx context.Context, fields map[string]string) (*Ticket, error) {
	body := map[string]any{"fields": c.jiraFields(fields, true)}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	err := doJSON(ctx, c.hc, http.MethodPost, c.base+"/rest/api/2/issue",
		c.cred.Email, c.cred.Secret, "", body, &created, false)
	if err != nil {
		return nil, fmt.Errorf("jira: create ticket: %w", err)
	}
	return c.GetTicket(ctx, created.Key)
}

func (c *jiraClient) UpdateTicket(ctx context.Context, id string, fields map[string]string) (*Ticket, error) {
	body := map[string]any{"fields": c.jiraFields(fields, false)}
	err := doJSON(ctx, c.hc, http.MethodPut, c.base+"/rest/api/2/issue/"+url.PathEscape(id),
		c.cred.Email, c.cred.Secret, "", body, nil, true)
	if err != nil {
		return nil, fmt.Errorf("jira: update ticket %s: %w", id, err)
	}
	return c.GetTicket(ctx, id)
}

func (c *jiraClient) DeleteTicket(ctx context.Context, id string) error {
	err := doJSON(ctx, c.hc, http.MethodDelete, c.base+"/rest/api/2/issue/"+url.PathEscape(id),
		c.cred.Email, c.cred.Secret, "", nil, nil, true)
	if err != nil {
		return fmt.Errorf("jira: delete ticket %s: %w", id, err)
	}
	return nil
}

func (c *jiraClient) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var raw []struct {
		AccountID    string `json:"accountId"`
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := c.get(ctx, "/rest/api/2/user/search?query="+url.QueryEscape(query), &raw, false); err != nil {
		return nil, fmt.Errorf("jira: search users: %w", err)
	}
	users := make([]User, len(raw))
	for i, u := range raw {
		users[i] = User{ID: u.AccountID, Name: u.DisplayName, Email: u.EmailAddress}
	}
	return users, nil
}

func (c *jiraClient) ResolveSprint(ctx context.Context, name string) (*Sprint, error) {
	var boards struct {
		Values []struct {
			ID int `json:"id"`
		} `json:"values"`
	}
	if err := c.get(ctx, "/rest/agile/1.0/board?projectKeyOrId="+url.QueryEscape(c.project), &boards, false); err != nil {
		return nil, fmt.Errorf("jira: list boards: %w", err)
	}

	for _, board := range boards.Values {
		var sprints struct {
			Values []struct {
				ID    int    `json:"id"`
				Name  string `json:"name"`
				State string `json:"state"`
			} `json:"values"`
		}
		path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint", board.ID)
		if err := c.get(ctx, path, &sprints, false); err != nil {
			return nil, fmt.Errorf("jira: list sprints for board %d: %w", board.ID, err)
		}
		for _, s := range sprints.Values {
			if strings.EqualFold(s.Name, name) {
				return &Sprint{ID: fmt.Sprintf("%d", s.ID), Name: s.Name, State: s.State}, nil
			}
		}
	}
	return nil, fmt.Errorf("jira: sprint %q not found in project %s", name, c.project)
}

func (c *jiraClient) IssueTypes(ctx context.Context) ([]IssueType, error) {
	var raw []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/rest/api/2/issuetype", &raw, false); err != nil {
		return nil, fmt.Errorf("jira: issue types: %w", err)
	}
	types := make([]IssueType, len(raw))
	for i, t := range raw {
		types[i] = IssueType{ID: t.ID, Name: t.Name}
	}
	return types, nil
}

func (c *jiraClient) FieldMetadata(ctx context.Context) ([]FieldMeta, error) {
	var raw []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Schema struct {
			Type string `json:"type"`
		} `json:"schema"`
	}
	if err := c.get(ctx, "/rest/api/2/field", &raw, false); err != nil {
		return nil, fmt.Errorf("jira: field metadata: %w", err)
	}
	fields := make([]FieldMeta, len(raw))
	for i, f := range raw {
		fields[i] = FieldMeta{ID: f.ID, Name: f.Name, Type: f.Schema.Type}
	}
	return fields, nil
}
