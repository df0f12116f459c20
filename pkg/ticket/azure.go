package ticket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const azureAPIVersion = "7.0"

// azureClient talks to the Azure DevOps work item tracking REST API using a
// personal access token. User search has no WIT-scoped endpoint (it lives in
// the separate Graph API), so that capability reports ErrNotImplemented.
type azureClient struct {
	hc      *http.Client
	cred    Credential
	project string
	base    string
}

func newAzureClient(hc *http.Client, cred Credential, project string) *azureClient {
	base := cred.Domain
	if !strings.HasPrefix(base, "http") {
		base = "https://dev.azure.com/" + base
	}
	return &azureClient{
		hc:      hc,
		cred:    cred,
		project: project,
		base:    strings.TrimRight(base, "/"),
	}
}

func (c *azureClient) Tracker() TrackerType { return TrackerAzure }

func (c *azureClient) url(projectScoped bool, path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", azureAPIVersion)
	prefix := c.base
	if projectScoped {
		prefix += "/" + url.PathEscape(c.project)
	}
	return prefix + path + "?" + query.Encode()
}

func (c *azureClient) do(ctx context.Context, method, u, contentType string, body, out any, ticketScoped bool) error {
	// PAT auth: empty user, token as password.
	return doJSON(ctx, c.hc, method, u, "", c.cred.Secret, contentType, body, out, ticketScoped)
}

// azureFieldRef maps uniform field names onto work item field references.
func azureFieldRef(name string) string {
	switch name {
	case "summary":
		return "System.Title"
	case "description":
		return "System.Description"
	case "status":
		return "System.State"
	case "assignee":
		return "System.AssignedTo"
	default:
		return name
	}
}

type azureWorkItem struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (w *azureWorkItem) toTicket() Ticket {
	str := func(key string) string {
		v, ok := w.Fields[key]
		if !ok {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		if m, ok := v.(map[string]any); ok {
			if dn, ok := m["displayName"].(string); ok {
				return dn
			}
		}
		return fmt.Sprintf("%v", v)
	}
	return Ticket{
		ID:          strconv.Itoa(w.ID),
		Summary:     str("System.Title"),
		Description: str("System.Description"),
		Status:      str("System.State"),
		Type:        str("System.WorkItemType"),
		Assignee:    str("System.AssignedTo"),
	}
}

func (c *azureClient) ListProjects(ctx context.Context) ([]Project, error) {
	var raw struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, c.url(false, "/_apis/projects", nil), "", nil, &raw, false); err != nil {
		return nil, fmt.Errorf("azure: list projects: %w", err)
	}
	projects := make([]Project, len(raw.Value))
	for i, p := range raw.Value {
		projects[i] = Project{ID: p.ID, Name: p.Name}
	}
	return projects, nil
}

func (c *azureClient) ListTickets(ctx context.Context, opts ListOptions) (*TicketPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	wiql := map[string]string{
		"query": "Select [System.Id] From WorkItems Where [System.TeamProject] = @project Order By [System.ChangedDate] Desc",
	}
	var ids struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := c.do(ctx, http.MethodPost, c.url(true, "/_apis/wit/wiql", nil), "", wiql, &ids, false); err != nil {
		return nil, fmt.Errorf("azure: wiql query: %w", err)
	}

	page := &TicketPage{Total: len(ids.WorkItems), Offset: opts.Offset}
	if opts.Offset >= len(ids.WorkItems) {
		return page, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(ids.WorkItems) {
		end = len(ids.WorkItems)
	}

	idStrs := make([]string, 0, end-opts.Offset)
	for _, wi := range ids.WorkItems[opts.Offset:end] {
		idStrs = append(idStrs, strconv.Itoa(wi.ID))
	}

	var batch struct {
		Value []azureWorkItem `json:"value"`
	}
	q := url.Values{"ids": {strings.Join(idStrs, ",")}}
	if err := c.do(ctx, http.MethodGet, c.url(false, "/_apis/wit/workitems", q), "", nil, &batch, false); err != nil {
		return nil, fmt.Errorf("azure: fetch work items: %w", err)
	}
	for i := range batch.Value {
		page.Tickets = append(page.Tickets, batch.Value[i].toTicket())
	}
	return page, nil
}

func (c *azureClient) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var raw azureWorkItem
	u := c.url(true, "/_apis/wit/workitems/"+url.PathEscape(id), nil)
	if err := c.do(ctx, http.MethodGet, u, "", nil, &raw, true); err != nil {
		return nil, fmt.Errorf("azure: get work item %s: %w", id, err)
	}
	t := raw.toTicket()
	return &t, nil
}

// patchOps converts uniform fields into a JSON-patch document.
func patchOps(fields map[string]string) []map[string]any {
	ops := make([]map[string]any, 0, len(fields))
	for name, value := range fields {
		if name == "type" {
			continue // type is part of the create URL, not a patchable field
		}
		ops = append(ops, map[string]any{
			"op":    "add",
			"path":  "/fields/" + azureFieldRef(name),
			"value": value,
		})
	}
	return ops
}

func (c *azureClient) CreateTicket(ctx context.Context, fields map[string]string) (*Ticket, error) {
	itemType := fields["type"]
	if itemType == "" {
		itemType = "Task"
	}
	var raw azureWorkItem
	u := c.url(true, "/_apis/wit/workitems/$"+url.PathEscape(itemType), nil)
	if err := c.do(ctx, http.MethodPost, u, "application/json-patch+json", patchOps(fields), &raw, false); err != nil {
		return nil, fmt.Errorf("azure: create work item: %w", err)
	}
	t := raw.toTicket()
	return &t, nil
}

func (c *azureClient) UpdateTicket(ctx context.Context, id string, fields map[string]string) (*Ticket, error) {
	var raw azureWorkItem
	u := c.url(false, "/_apis/wit/workitems/"+url.PathEscape(id), nil)
	if err := c.do(ctx, http.MethodPatch, u, "application/json-patch+json", patchOps(fields), &raw, true); err != nil {
		return nil, fmt.Errorf("azure: update work item %s: %w", id, err)
	}
	t := raw.toTicket()
	return &t, nil
}

func (c *azureClient) DeleteTicket(ctx context.Context, id string) error {
	u := c.url(true, "/_apis/wit/workitems/"+url.PathEscape(id), nil)
	if err := c.do(ctx, http.MethodDelete, u, "", nil, nil, true); err != nil {
		return fmt.Errorf("azure: delete work item %s: %w", id, err)
	}
	return nil
}

func (c *azureClient) SearchUsers(ctx context.Context, _ string) ([]User, error) {
	return nil, NotImplemented(TrackerAzure, "user search")
}

func (c *azureClient) ResolveSprint(ctx context.Context, name string) (*Sprint, error) {
	var raw struct {
		Value []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			Attributes struct {
				TimeFrame string `json:"timeFrame"`
			} `json:"attributes"`
		} `json:"value"`
	}
	u := c.url(true, "/_apis/work/teamsettings/iterations", nil)
	if err := c.do(ctx, http.MethodGet, u, "", nil, &raw, false); err != nil {
		return nil, fmt.Errorf("azure: list iterations: %w", err)
	}
	for _, it := range raw.Value {
		if strings.EqualFold(it.Name, name) {
			return &Sprint{ID: it.ID, Name: it.Name, State: it.Attributes.TimeFrame}, nil
		}
	}
	return nil, fmt.Errorf("azure: iteration %q not found in project %s", name, c.project)
}

func (c *azureClient) IssueTypes(ctx context.Context) ([]IssueType, error) {
	var raw struct {
		Value []struct {
			ReferenceName string `json:"referenceName"`
			Name          string `json:"name"`
		} `json:"value"`
	}
	u := c.url(true, "/_apis/wit/workitemtypes", nil)
	if err := c.do(ctx, http.MethodGet, u, "", nil, &raw, false); err != nil {
		return nil, fmt.Errorf("azure: work item types: %w", err)
	}
	types := make([]IssueType, len(raw.Value))
	for i, t := range raw.Value {
		types[i] = IssueType{ID: t.ReferenceName, Name: t.Name}
	}
	return types, nil
}

func (c *azureClient) FieldMetadata(ctx context.Context) ([]FieldMeta, error) {
	var raw struct {
		Value []struct {
			ReferenceName string `json:"referenceName"`
			Name          string `json:"name"`
			Type          string `json:"type"`
		} `json:"value"`
	}
	u := c.url(false, "/_apis/wit/fields", nil)
	if err := c.do(ctx, http.MethodGet, u, "", nil, &raw, false); err != nil {
		return nil, fmt.Errorf("azure: field metadata: %w", err)
	}
	fields := make([]FieldMeta, len(raw.Value))
	for i, f := range raw.Value {
		fields[i] = FieldMeta{ID: f.ReferenceName, Name: f.Name, Type: f.Type}
	}
	return fields, nil
}
