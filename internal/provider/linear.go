package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fernhill/plansync/internal/errors"
	"github.com/fernhill/plansync/internal/log"
	"github.com/fernhill/plansync/internal/plan"
)

const defaultLinearEndpoint = "https://api.linear.app/graphql"

// LinearOptions configures a LinearProvider
type LinearOptions struct {
	// APIKey authenticates against the Linear API
	APIKey string

	// TeamKey is the Linear team the items are created in (e.g. "ENG")
	TeamKey string

	// Endpoint overrides the GraphQL endpoint, for tests
	Endpoint string

	// HTTPClient should carry the retrying transport; http.DefaultClient
	// when nil
	HTTPClient *http.Client

	Logger *log.Logger
}

// LinearProvider talks to the Linear GraphQL API. Per-endpoint query and
// mutation builders are kept as thin data shaping; resilience lives in the
// transport the HTTP client carries.
type LinearProvider struct {
	endpoint string
	apiKey   string
	teamKey  string
	client   *http.Client
	logger   *log.Logger

	// session holds identifiers resolved once per process (team id, board
	// url) and is immutable after resolve
	session     *linearSession
	sessionOnce sync.Once
	sessionErr  error
}

type linearSession struct {
	TeamID   string
	BoardURL string
}

// NewLinearProvider creates a Linear-backed provider
func NewLinearProvider(opts LinearOptions) (*LinearProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.NewProviderAuthError("linear")
	}
	if opts.TeamKey == "" {
		return nil, errors.New(errors.ErrCodeProviderConfig, "linear provider requires a team key")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultLinearEndpoint
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}
	return &LinearProvider{
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		teamKey:  opts.TeamKey,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
	}, nil
}

// Name implements Provider
func (p *LinearProvider) Name() string { return "linear" }

// Capabilities implements Provider. Linear supports both parent/child
// hierarchy and blocked-by relations.
func (p *LinearProvider) Capabilities() Capabilities {
	return Capabilities{Hierarchy: true, BlockingLinks: true}
}

// BoardURL implements Provider
func (p *LinearProvider) BoardURL() string {
	session, err := p.resolve(context.Background())
	if err != nil {
		return ""
	}
	return session.BoardURL
}

// resolve looks up the team once and caches the result for the process
func (p *LinearProvider) resolve(ctx context.Context) (*linearSession, error) {
	p.sessionOnce.Do(func() {
		var out struct {
			Teams struct {
				Nodes []struct {
					ID  string `json:"id"`
					Key string `json:"key"`
				} `json:"nodes"`
			} `json:"teams"`
			Organization struct {
				URLKey string `json:"urlKey"`
			} `json:"organization"`
		}
		err := p.do(ctx, `query Teams($key: String!) {
			teams(filter: { key: { eq: $key } }) { nodes { id key } }
			organization { urlKey }
		}`, map[string]interface{}{"key": p.teamKey}, &out)
		if err != nil {
			p.sessionErr = err
			return
		}
		if len(out.Teams.Nodes) == 0 {
			p.sessionErr = errors.New(errors.ErrCodeProviderConfig,
				fmt.Sprintf("linear team not found: %s", p.teamKey))
			return
		}
		p.session = &linearSession{
			TeamID:   out.Teams.Nodes[0].ID,
			BoardURL: fmt.Sprintf("https://linear.app/%s/team/%s", out.Organization.URLKey, p.teamKey),
		}
	})
	return p.session, p.sessionErr
}

// SearchItems implements Provider
func (p *LinearProvider) SearchItems(ctx context.Context, filters SearchFilters) ([]Item, error) {
	session, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	filter := map[string]interface{}{
		"team": map[string]interface{}{"id": map[string]interface{}{"eq": session.TeamID}},
	}
	if len(filters.Labels) > 0 {
		filter["labels"] = map[string]interface{}{
			"every": map[string]interface{}{"name": map[string]interface{}{"in": filters.Labels}},
		}
	}

	var out struct {
		Issues struct {
			Nodes []linearIssue `json:"nodes"`
		} `json:"issues"`
	}
	err = p.do(ctx, `query Issues($filter: IssueFilter!) {
		issues(filter: $filter, first: 250) { nodes { ...IssueFields } }
	}`+linearIssueFragment, map[string]interface{}{"filter": filter}, &out)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(out.Issues.Nodes))
	for _, node := range out.Issues.Nodes {
		items = append(items, node.toItem())
	}
	return items, nil
}

// CreateItem implements Provider. Creation is two remote steps: the issue
// itself, then labels and estimate. A failure after the first step surfaces
// as a PartialCreateError carrying the created identity, so the next run's
// discovery finds the issue instead of duplicating it.
func (p *LinearProvider) CreateItem(ctx context.Context, input CreateInput) (Item, error) {
	session, err := p.resolve(ctx)
	if err != nil {
		return Item{}, err
	}

	create := map[string]interface{}{
		"teamId":      session.TeamID,
		"title":       input.Title,
		"description": input.Body,
	}
	if input.ParentID != "" {
		create["parentId"] = input.ParentID
	}

	var created struct {
		IssueCreate struct {
			Success bool        `json:"success"`
			Issue   linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	err = p.do(ctx, `mutation IssueCreate($input: IssueCreateInput!) {
		issueCreate(input: $input) { success issue { ...IssueFields } }
	}`+linearIssueFragment, map[string]interface{}{"input": create}, &created)
	if err != nil {
		return Item{}, err
	}
	if !created.IssueCreate.Success {
		return Item{}, errors.New(errors.ErrCodeProviderAPI, "linear rejected issue creation")
	}
	item := created.IssueCreate.Issue.toItem()
	item.Type = input.Type

	if err := p.attachLabels(ctx, item.ID, input.Labels, input.Estimate); err != nil {
		return Item{}, &PartialCreateError{
			Created:        item,
			CompletedSteps: []string{"create"},
			Cause:          err,
		}
	}
	item.Labels = append([]string(nil), input.Labels...)
	item.Estimate = input.Estimate
	return item, nil
}

// attachLabels sets labels and estimate in a follow-up update
func (p *LinearProvider) attachLabels(ctx context.Context, id string, labels []string, estimate string) error {
	if len(labels) == 0 && estimate == "" {
		return nil
	}
	labelIDs, err := p.ensureLabels(ctx, labels)
	if err != nil {
		return err
	}
	update := map[string]interface{}{"labelIds": labelIDs}
	if points, ok := parseEstimate(estimate); ok {
		update["estimate"] = points
	}
	return p.updateIssue(ctx, id, update)
}

// UpdateItem implements Provider
func (p *LinearProvider) UpdateItem(ctx context.Context, id string, input UpdateInput) (Item, error) {
	labelIDs, err := p.ensureLabels(ctx, input.Labels)
	if err != nil {
		return Item{}, err
	}
	update := map[string]interface{}{
		"title":       input.Title,
		"description": input.Body,
		"labelIds":    labelIDs,
	}
	if points, ok := parseEstimate(input.Estimate); ok {
		update["estimate"] = points
	}
	if err := p.updateIssue(ctx, id, update); err != nil {
		return Item{}, err
	}

	item, err := p.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item.Type = input.Type
	return item, nil
}

// GetItem implements Provider
func (p *LinearProvider) GetItem(ctx context.Context, id string) (Item, error) {
	var out struct {
		Issue linearIssue `json:"issue"`
	}
	err := p.do(ctx, `query Issue($id: String!) {
		issue(id: $id) { ...IssueFields }
	}`+linearIssueFragment, map[string]interface{}{"id": id}, &out)
	if err != nil {
		return Item{}, err
	}
	return out.Issue.toItem(), nil
}

// DeleteItem implements Provider
func (p *LinearProvider) DeleteItem(ctx context.Context, id string) error {
	var out struct {
		IssueDelete struct {
			Success bool `json:"success"`
		} `json:"issueDelete"`
	}
	err := p.do(ctx, `mutation IssueDelete($id: String!) {
		issueDelete(id: $id) { success }
	}`, map[string]interface{}{"id": id}, &out)
	if err != nil {
		return err
	}
	if !out.IssueDelete.Success {
		return errors.New(errors.ErrCodeProviderAPI, fmt.Sprintf("linear rejected deletion of %s", id))
	}
	return nil
}

// ReconcileRelations implements Provider: fetch current parent and blocked-by
// links, then apply only the delta
func (p *LinearProvider) ReconcileRelations(ctx context.Context, id string, parentID string, blockerIDs []string) error {
	var out struct {
		Issue struct {
			Parent struct {
				ID string `json:"id"`
			} `json:"parent"`
			InverseRelations struct {
				Nodes []struct {
					ID    string `json:"id"`
					Type  string `json:"type"`
					Issue struct {
						ID string `json:"id"`
					} `json:"issue"`
				} `json:"nodes"`
			} `json:"inverseRelations"`
		} `json:"issue"`
	}
	err := p.do(ctx, `query IssueRelations($id: String!) {
		issue(id: $id) {
			parent { id }
			inverseRelations { nodes { id type issue { id } } }
		}
	}`, map[string]interface{}{"id": id}, &out)
	if err != nil {
		return err
	}

	if out.Issue.Parent.ID != parentID {
		update := map[string]interface{}{"parentId": parentID}
		if parentID == "" {
			update["parentId"] = nil
		}
		if err := p.updateIssue(ctx, id, update); err != nil {
			return err
		}
	}

	current := make(map[string]string) // blocker issue id -> relation id
	for _, rel := range out.Issue.InverseRelations.Nodes {
		if rel.Type == "blocks" {
			current[rel.Issue.ID] = rel.ID
		}
	}
	desired := make(map[string]bool, len(blockerIDs))
	for _, blocker := range blockerIDs {
		desired[blocker] = true
	}

	for _, blocker := range blockerIDs {
		if _, ok := current[blocker]; ok {
			continue
		}
		err := p.do(ctx, `mutation RelationCreate($input: IssueRelationCreateInput!) {
			issueRelationCreate(input: $input) { success }
		}`, map[string]interface{}{"input": map[string]interface{}{
			"issueId":        blocker,
			"relatedIssueId": id,
			"type":           "blocks",
		}}, &struct{}{})
		if err != nil {
			return err
		}
	}
	for blocker, relationID := range current {
		if desired[blocker] {
			continue
		}
		err := p.do(ctx, `mutation RelationDelete($id: String!) {
			issueRelationDelete(id: $id) { success }
		}`, map[string]interface{}{"id": relationID}, &struct{}{})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *LinearProvider) updateIssue(ctx context.Context, id string, update map[string]interface{}) error {
	var out struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := p.do(ctx, `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`, map[string]interface{}{"id": id, "input": update}, &out)
	if err != nil {
		return err
	}
	if !out.IssueUpdate.Success {
		return errors.New(errors.ErrCodeProviderAPI, fmt.Sprintf("linear rejected update of %s", id))
	}
	return nil
}

// ensureLabels resolves label names to ids, creating missing labels
func (p *LinearProvider) ensureLabels(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return []string{}, nil
	}
	session, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var out struct {
		IssueLabels struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	err = p.do(ctx, `query Labels($names: [String!]) {
		issueLabels(filter: { name: { in: $names } }) { nodes { id name } }
	}`, map[string]interface{}{"names": names}, &out)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(out.IssueLabels.Nodes))
	for _, node := range out.IssueLabels.Nodes {
		byName[node.Name] = node.ID
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
			continue
		}
		var created struct {
			IssueLabelCreate struct {
				IssueLabel struct {
					ID string `json:"id"`
				} `json:"issueLabel"`
			} `json:"issueLabelCreate"`
		}
		err := p.do(ctx, `mutation LabelCreate($input: IssueLabelCreateInput!) {
			issueLabelCreate(input: $input) { issueLabel { id } }
		}`, map[string]interface{}{"input": map[string]interface{}{
			"name":   name,
			"teamId": session.TeamID,
		}}, &created)
		if err != nil {
			return nil, err
		}
		ids = append(ids, created.IssueLabelCreate.IssueLabel.ID)
	}
	return ids, nil
}

// do executes one GraphQL request and decodes the data payload into out
func (p *LinearProvider) do(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI, "marshal graphql request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI, "build graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.apiKey)

	p.logger.DebugContext(ctx, "linear request", "endpoint", p.endpoint)
	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI, "linear request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		// The transport exhausted its retries and handed the 429 back
		return errors.NewProviderRateLimitError("linear", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrCodeProviderAPI,
			fmt.Sprintf("linear returned status %d", resp.StatusCode))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.Wrap(errors.ErrCodeProviderAPI, "decode linear response", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		return errors.New(errors.ErrCodeProviderAPI,
			fmt.Sprintf("linear api error: %s", strings.Join(messages, "; ")))
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrap(errors.ErrCodeProviderAPI, "decode linear payload", err)
		}
	}
	return nil
}

const linearIssueFragment = `
fragment IssueFields on Issue {
	id
	identifier
	url
	title
	description
	estimate
	parent { id }
	labels { nodes { name } }
}`

// linearIssue is the wire shape of an issue node
type linearIssue struct {
	ID          string  `json:"id"`
	Identifier  string  `json:"identifier"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Estimate    float64 `json:"estimate"`
	Parent      struct {
		ID string `json:"id"`
	} `json:"parent"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

func (n linearIssue) toItem() Item {
	item := Item{
		ID:       n.ID,
		Key:      n.Identifier,
		URL:      n.URL,
		Title:    n.Title,
		Body:     n.Description,
		ParentID: n.Parent.ID,
	}
	if n.Estimate > 0 {
		item.Estimate = fmt.Sprintf("%g", n.Estimate)
	}
	for _, label := range n.Labels.Nodes {
		item.Labels = append(item.Labels, label.Name)
	}
	item.Type = typeFromLabels(item.Labels)
	return item
}

// parseEstimate maps the plan's free-form estimate to Linear points when it
// is numeric; anything else is carried in the body only
func parseEstimate(estimate string) (float64, bool) {
	if estimate == "" {
		return 0, false
	}
	points, err := strconv.ParseFloat(estimate, 64)
	if err != nil {
		return 0, false
	}
	return points, true
}

// typeFromLabels recovers the declared item type from the tool's type labels
func typeFromLabels(labels []string) plan.ItemType {
	for _, label := range labels {
		switch label {
		case "plansync:epic":
			return plan.TypeEpic
		case "plansync:story":
			return plan.TypeStory
		case "plansync:task":
			return plan.TypeTask
		}
	}
	return ""
}
