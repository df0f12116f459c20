// Package ticket provides a uniform client capability over external issue
// trackers (Jira, Azure DevOps) and a factory that owns one pooled transport
// per tracker type. Capabilities a tracker does not support fail with
// ErrNotImplemented so callers can degrade per tracker instead of treating the
// gap as a generic failure.
package ticket

import (
	"context"
	"errors"
	"fmt"
)

// TrackerType identifies an external ticketing system.
type TrackerType string

const (
	// TrackerJira is Atlassian Jira (REST API v2).
	TrackerJira TrackerType = "jira"
	// TrackerAzure is Azure DevOps work item tracking.
	TrackerAzure TrackerType = "azure"
)

// ErrNotImplemented marks a capability the tracker-specific client does not
// support. Distinct from generic errors so callers can degrade gracefully.
var ErrNotImplemented = errors.New("capability not implemented for this tracker")

// ErrTicketNotFound is returned when the tracker reports the ticket id does
// not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// NotImplemented wraps ErrNotImplemented with the tracker and capability name.
func NotImplemented(tracker TrackerType, capability string) error {
	return fmt.Errorf("%s: %s: %w", tracker, capability, ErrNotImplemented)
}

// Credential holds what the factory needs to reach one tracker account. The
// secret arrives decrypted and must never be persisted by this package.
type Credential struct {
	ID      string
	UserID  string
	Tracker TrackerType
	Domain  string // Jira site domain or Azure DevOps organization URL
	Email   string // account email (Jira basic auth user)
	Secret  string // API token / personal access token
}

// Project is a tracker project.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name"`
}

// Ticket is the uniform view of a tracker issue / work item.
type Ticket struct {
	ID          string            `json:"id"`
	Summary     string            `json:"summary"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	Type        string            `json:"type,omitempty"`
	Assignee    string            `json:"assignee,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
}

// ListOptions controls ticket pagination.
type ListOptions struct {
	Offset int
	Limit  int
}

// User is a tracker account resolved by search.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Sprint is a tracker sprint / iteration.
type Sprint struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
}

// IssueType is a creatable ticket type in a project.
type IssueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldMeta describes one settable ticket field.
type FieldMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Client is the uniform capability surface over one tracker account,
// optionally bound to a project. Implementations must be safe for concurrent
// use: one pooled transport backs all conversations against a tracker type.
type Client interface {
	Tracker() TrackerType

	ListProjects(ctx context.Context) ([]Project, error)
	ListTickets(ctx context.Context, opts ListOptions) (*TicketPage, error)
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	CreateTicket(ctx context.Context, fields map[string]string) (*Ticket, error)
	UpdateTicket(ctx context.Context, id string, fields map[string]string) (*Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	SearchUsers(ctx context.Context, query string) ([]User, error)
	ResolveSprint(ctx context.Context, name string) (*Sprint, error)
	IssueTypes(ctx context.Context) ([]IssueType, error)
	FieldMetadata(ctx context.Context) ([]FieldMeta, error)
}
