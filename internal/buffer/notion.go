package buffer

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
)

// Notion database property names for the action-log dashboard.
const (
	propName        = "Name"
	propPlatform    = "Platform"
	propActionType  = "Action Type"
	propEntityType  = "Entity Type"
	propEntityID    = "Entity ID"
	propDescription = "Description"
	propGitHubID    = "GitHub ID"
	propLinearID    = "Linear ID"
	propNotionID    = "Notion ID"
	propTimestamp   = "Action Timestamp"
	propSyncStatus  = "Sync Status"
	propValidated   = "Validation Status"
	propLastValid   = "Last Validated"
	propErrorLog    = "Error Log"
)

// NotionStore keeps the action log in a Notion database, one page per
// record, so the workspace doubles as a human-readable audit dashboard.
// Durability is the Notion API call completing.
type NotionStore struct {
	client     *notionapi.Client
	databaseID notionapi.DatabaseID
	now        func() time.Time
}

// NewNotionStore creates a store over the given action-log database.
func NewNotionStore(client *notionapi.Client, databaseID string) *NotionStore {
	return &NotionStore{
		client:     client,
		databaseID: notionapi.DatabaseID(databaseID),
		now:        time.Now,
	}
}

// Append implements Store.
func (s *NotionStore) Append(ctx context.Context, in Input) (string, error) {
	observed := in.ObservedAt
	if observed.IsZero() {
		observed = s.now()
	}
	start := notionapi.Date(observed)

	props := notionapi.Properties{
		propName: notionapi.TitleProperty{
			Title: richText(fmt.Sprintf("%s %s - %s", in.Platform, in.ActionType, in.EntityID)),
		},
		propPlatform:    selectProp(string(in.Platform)),
		propActionType:  selectProp(string(in.ActionType)),
		propEntityType:  selectProp(string(in.EntityType)),
		propEntityID:    notionapi.RichTextProperty{RichText: richText(in.EntityID)},
		propDescription: notionapi.RichTextProperty{RichText: richText(in.Description)},
		propTimestamp:   notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}},
		propSyncStatus:  selectProp(string(StatusPending)),
		propValidated:   notionapi.CheckboxProperty{Checkbox: false},
	}
	if in.Correlations.GitHub != "" {
		props[propGitHubID] = notionapi.RichTextProperty{RichText: richText(in.Correlations.GitHub)}
	}
	if in.Correlations.Linear != "" {
		props[propLinearID] = notionapi.RichTextProperty{RichText: richText(in.Correlations.Linear)}
	}
	if in.Correlations.Notion != "" {
		props[propNotionID] = notionapi.RichTextProperty{RichText: richText(in.Correlations.Notion)}
	}

	page, err := s.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: s.databaseID,
		},
		Properties: props,
	})
	if err != nil {
		return "", fmt.Errorf("creating notion log entry: %w", err)
	}
	return string(page.ID), nil
}

// UpdateStatus implements Store.
func (s *NotionStore) UpdateStatus(ctx context.Context, id string, status SyncStatus, validated bool, errorLog string) error {
	now := notionapi.Date(s.now())
	props := notionapi.Properties{
		propSyncStatus: selectProp(string(status)),
		propValidated:  notionapi.CheckboxProperty{Checkbox: validated},
		propLastValid:  notionapi.DateProperty{Date: &notionapi.DateObject{Start: &now}},
		propErrorLog:   notionapi.RichTextProperty{RichText: richText(errorLog)},
	}

	_, err := s.client.Page.Update(ctx, notionapi.PageID(id), &notionapi.PageUpdateRequest{
		Properties: props,
	})
	if err != nil {
		return fmt.Errorf("updating notion log entry %s: %w", id, err)
	}
	return nil
}

// Query implements Store.
func (s *NotionStore) Query(ctx context.Context, f Filter) ([]ActionRecord, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter:   buildNotionFilter(f),
		PageSize: 100,
	}

	var records []ActionRecord
	for {
		resp, err := s.client.Database.Query(ctx, s.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("querying notion log entries: %w", err)
		}
		for i := range resp.Results {
			records = append(records, pageToRecord(&resp.Results[i]))
		}
		if !resp.HasMore {
			break
		}
		req.StartCursor = resp.NextCursor
	}
	return records, nil
}

// Stats implements Store. The Notion API has no aggregation, so counts
// are computed client-side over a full query, as the dashboard did.
func (s *NotionStore) Stats(ctx context.Context) (Stats, error) {
	records, err := s.Query(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}
	return TallyStats(records), nil
}

// Close implements Store. The Notion client holds no resources.
func (s *NotionStore) Close() error {
	return nil
}

func buildNotionFilter(f Filter) notionapi.Filter {
	var clauses notionapi.AndCompoundFilter

	if f.Unresolved {
		clauses = append(clauses, notionapi.OrCompoundFilter{
			notionapi.PropertyFilter{
				Property: propValidated,
				Checkbox: &notionapi.CheckboxFilterCondition{DoesNotEqual: true},
			},
			notionapi.PropertyFilter{
				Property: propSyncStatus,
				Select:   &notionapi.SelectFilterCondition{Equals: string(StatusPending)},
			},
		})
	}
	if f.ValidatedAfter != nil {
		after := notionapi.Date(*f.ValidatedAfter)
		clauses = append(clauses, notionapi.PropertyFilter{
			Property: propLastValid,
			Date:     &notionapi.DateFilterCondition{After: &after},
		})
	}
	if f.Platform != "" {
		clauses = append(clauses, notionapi.PropertyFilter{
			Property: propPlatform,
			Select:   &notionapi.SelectFilterCondition{Equals: string(f.Platform)},
		})
	}
	if f.SyncStatus != "" {
		clauses = append(clauses, notionapi.PropertyFilter{
			Property: propSyncStatus,
			Select:   &notionapi.SelectFilterCondition{Equals: string(f.SyncStatus)},
		})
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		if pf, ok := clauses[0].(notionapi.PropertyFilter); ok {
			return pf
		}
		return clauses[0].(notionapi.OrCompoundFilter)
	default:
		return clauses
	}
}

func pageToRecord(page *notionapi.Page) ActionRecord {
	rec := ActionRecord{
		ID:          string(page.ID),
		Platform:    Platform(selectValue(page, propPlatform)),
		ActionType:  ActionType(selectValue(page, propActionType)),
		EntityType:  EntityType(selectValue(page, propEntityType)),
		EntityID:    richTextValue(page, propEntityID),
		Description: richTextValue(page, propDescription),
		Correlations: CorrelationIDs{
			GitHub: richTextValue(page, propGitHubID),
			Linear: richTextValue(page, propLinearID),
			Notion: richTextValue(page, propNotionID),
		},
		SyncStatus: SyncStatus(selectValue(page, propSyncStatus)),
		Validated:  checkboxValue(page, propValidated),
		ErrorLog:   richTextValue(page, propErrorLog),
	}
	if t := dateValue(page, propTimestamp); t != nil {
		rec.ObservedAt = *t
	}
	rec.LastValidatedAt = dateValue(page, propLastValid)
	if rec.SyncStatus == "" {
		rec.SyncStatus = StatusPending
	}
	return rec
}

func richText(content string) []notionapi.RichText {
	if content == "" {
		return []notionapi.RichText{}
	}
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: content}},
	}
}

func selectProp(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Select: notionapi.Option{Name: name}}
}

func selectValue(page *notionapi.Page, name string) string {
	if p, ok := page.Properties[name].(*notionapi.SelectProperty); ok {
		return p.Select.Name
	}
	return ""
}

func richTextValue(page *notionapi.Page, name string) string {
	if p, ok := page.Properties[name].(*notionapi.RichTextProperty); ok && len(p.RichText) > 0 {
		return p.RichText[0].PlainText
	}
	return ""
}

func checkboxValue(page *notionapi.Page, name string) bool {
	if p, ok := page.Properties[name].(*notionapi.CheckboxProperty); ok {
		return p.Checkbox
	}
	return false
}

func dateValue(page *notionapi.Page, name string) *time.Time {
	p, ok := page.Properties[name].(*notionapi.DateProperty)
	if !ok || p.Date == nil || p.Date.Start == nil {
		return nil
	}
	t := time.Time(*p.Date.Start)
	return &t
}
