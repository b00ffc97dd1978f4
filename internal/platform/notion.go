package platform

import (
	"context"

	"github.com/jomei/notionapi"

	"github.com/trancendos/syncbridge/internal/buffer"
)

// NotionDocClient implements DocClient over the Notion action-log
// database. It reuses the buffer's Notion store: the documentation
// workspace's log-entry operations are the same page create/update/
// query calls the buffer mirror makes.
type NotionDocClient struct {
	store *buffer.NotionStore
}

// NewNotionDocClient creates a doc client over the given database.
func NewNotionDocClient(client *notionapi.Client, databaseID string) *NotionDocClient {
	return &NotionDocClient{store: buffer.NewNotionStore(client, databaseID)}
}

// Store exposes the underlying store so it can double as the buffer
// mirror.
func (c *NotionDocClient) Store() *buffer.NotionStore {
	return c.store
}

// CreateLogEntry implements DocClient.
func (c *NotionDocClient) CreateLogEntry(ctx context.Context, in buffer.Input) (string, error) {
	return c.store.Append(ctx, in)
}

// UpdateLogEntryStatus implements DocClient.
func (c *NotionDocClient) UpdateLogEntryStatus(ctx context.Context, id string, status buffer.SyncStatus, validated bool, errorLog string) error {
	return c.store.UpdateStatus(ctx, id, status, validated, errorLog)
}

// QueryLogEntries implements DocClient.
func (c *NotionDocClient) QueryLogEntries(ctx context.Context, f buffer.Filter) ([]buffer.ActionRecord, error) {
	return c.store.Query(ctx, f)
}
