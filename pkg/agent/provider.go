package agent

import (
	"context"
	"fmt"

	"ticketpilot/pkg/creds"
	"ticketpilot/pkg/ticket"
)

// TrackerProvider resolves a tracker client from a user's stored credential
// and the shared transport factory. It implements workflow.ClientProvider.
type TrackerProvider struct {
	creds   *creds.Store
	factory *ticket.Factory
}

// NewTrackerProvider creates a provider over the given stores.
func NewTrackerProvider(credStore *creds.Store, factory *ticket.Factory) *TrackerProvider {
	return &TrackerProvider{creds: credStore, factory: factory}
}

// ClientFor returns a tracker client for the user's credential. Users with
// credentials for several trackers get their Jira one; preference order is
// fixed rather than configurable for now.
func (p *TrackerProvider) ClientFor(ctx context.Context, userID, projectID string) (ticket.Client, error) {
	for _, tracker := range []ticket.TrackerType{ticket.TrackerJira, ticket.TrackerAzure} {
		cred, err := p.creds.Get(ctx, userID, tracker)
		if err == nil {
			return p.factory.GetClient(cred, projectID)
		}
	}
	return nil, fmt.Errorf("user %s has no tracker credential", userID)
}
