package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulse/internal/domain/engagement"
	"pulse/internal/domain/notify"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	countersTable      = "engagement_counters"
	commentsTable      = "comments"
	notificationsTable = "notifications"
	deviceTokensTable  = "device_tokens"
	profilesTable      = "profiles"

	// rpcApplyDelta is a Postgres function performing
	// `counters.<op> = counters.<op> + delta` atomically server-side.
	// The durable store never sees absolute overwrites.
	rpcApplyDelta = "apply_engagement_delta"
)

var (
	_ engagement.CounterStore  = (*SupabaseStore)(nil)
	_ engagement.CommentStore  = (*SupabaseStore)(nil)
	_ notify.NotificationStore = (*SupabaseStore)(nil)
)

// SupabaseStore implements the durable stores using the Supabase Go SDK.
// Table access goes through the supabase client; relative counter
// increments issue their own PostgREST RPC request per call so every
// HTTP failure surfaces as an error and calls stay independent under
// concurrent flushes.
type SupabaseStore struct {
	client     *supa.Client
	rpcURL     string
	serviceKey string
	httpClient *http.Client
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}

	return &SupabaseStore{
		client:     client,
		rpcURL:     strings.TrimRight(supabaseURL, "/") + "/rest/v1/rpc/" + rpcApplyDelta,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// ==========================================
// engagement.CounterStore
// ==========================================

// ApplyDelta applies a relative increment to one durable counter. Any
// transport failure or non-success status returns an error so the
// caller's retry policy sees the lost write.
func (s *SupabaseStore) ApplyDelta(ctx context.Context, targetID string, targetType engagement.TargetType, op engagement.OpFamily, delta int64) error {
	jsonData, err := json.Marshal(map[string]any{
		"p_target_id":   targetID,
		"p_target_type": string(targetType),
		"p_op":          string(op),
		"p_delta":       delta,
	})
	if err != nil {
		return fmt.Errorf("marshaling counter delta: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rpcURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("applying counter delta: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// counterRow is the engagement_counters table representation.
type counterRow struct {
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"`
	Likes      int64  `json:"likes"`
	Comments   int64  `json:"comments"`
	Views      int64  `json:"views"`
}

// GetCounts retrieves the durable counters for one target. A target
// with no row yet simply has zero counts.
func (s *SupabaseStore) GetCounts(ctx context.Context, targetID string, targetType engagement.TargetType) (*engagement.Counts, error) {
	data, _, err := s.client.From(countersTable).
		Select("*", "exact", false).
		Eq("target_id", targetID).
		Eq("target_type", string(targetType)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching counters: %w", err)
	}

	var rows []counterRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing counters: %w", err)
	}

	counts := &engagement.Counts{TargetID: targetID, TargetType: targetType}
	if len(rows) > 0 {
		counts.Likes = rows[0].Likes
		counts.Comments = rows[0].Comments
		counts.Views = rows[0].Views
	}
	return counts, nil
}

// ==========================================
// engagement.CommentStore
// ==========================================

// commentRow is the comments table representation.
type commentRow struct {
	ID         string  `json:"id"`
	TargetID   string  `json:"target_id"`
	TargetType string  `json:"target_type"`
	UserID     string  `json:"user_id"`
	Content    string  `json:"content"`
	ParentID   *string `json:"parent_id,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
}

// InsertComment durably persists a comment row.
func (s *SupabaseStore) InsertComment(ctx context.Context, c *engagement.Comment) error {
	row := commentRow{
		ID:         c.ID,
		TargetID:   c.TargetID,
		TargetType: string(c.TargetType),
		UserID:     c.UserID,
		Content:    c.Content,
	}
	if c.ParentID != "" {
		row.ParentID = &c.ParentID
	}

	data, _, err := s.client.From(commentsTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}

	var results []commentRow
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing comment insert response: %w", err)
	}
	if len(results) > 0 && results[0].CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, results[0].CreatedAt); err == nil {
			c.CreatedAt = t
		}
	}
	return nil
}

// ==========================================
// notify.NotificationStore
// ==========================================

// notificationRow is the notifications table representation.
type notificationRow struct {
	ID           string   `json:"id"`
	RecipientID  string   `json:"recipient_id"`
	ActorID      string   `json:"actor_id"`
	Type         string   `json:"type"`
	TargetType   *string  `json:"target_type,omitempty"`
	TargetID     *string  `json:"target_id,omitempty"`
	Message      string   `json:"message"`
	Count        int64    `json:"count"`
	SampleActors []string `json:"sample_actors,omitempty"`
	Read         bool     `json:"read"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// Insert creates a new notification row.
func (s *SupabaseStore) Insert(ctx context.Context, n *notify.Notification) error {
	row := notificationRow{
		ID:           n.ID,
		RecipientID:  n.RecipientID,
		ActorID:      n.ActorID,
		Type:         string(n.Type),
		Message:      n.Message,
		Count:        n.Count,
		SampleActors: n.SampleActors,
	}
	if n.TargetType != "" {
		row.TargetType = &n.TargetType
	}
	if n.TargetID != "" {
		row.TargetID = &n.TargetID
	}

	data, _, err := s.client.From(notificationsTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	var results []notificationRow
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing notification insert response: %w", err)
	}
	if len(results) > 0 {
		if t, err := time.Parse(time.RFC3339Nano, results[0].CreatedAt); err == nil {
			n.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, results[0].UpdatedAt); err == nil {
			n.UpdatedAt = t
		}
	}
	return nil
}

// GetByID retrieves a notification row. Returns nil, nil when missing.
func (s *SupabaseStore) GetByID(ctx context.Context, id string) (*notify.Notification, error) {
	data, _, err := s.client.From(notificationsTable).
		Select("*", "exact", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}

	var rows []notificationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing notification: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToNotification(&rows[0]), nil
}

// UpdateAggregate rewrites an aggregate row's message and count.
func (s *SupabaseStore) UpdateAggregate(ctx context.Context, id, message string, count int64) error {
	update := map[string]any{
		"message":    message,
		"count":      count,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	_, _, err := s.client.From(notificationsTable).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("updating notification aggregate: %w", err)
	}
	return nil
}

// ListByRecipient retrieves a recipient's notifications, newest first.
func (s *SupabaseStore) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	data, _, err := s.client.From(notificationsTable).
		Select("*", "exact", false).
		Eq("recipient_id", recipientID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(0, limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	var rows []notificationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing notification list: %w", err)
	}

	notifications := make([]*notify.Notification, len(rows))
	for i := range rows {
		notifications[i] = rowToNotification(&rows[i])
	}
	return notifications, nil
}

// deviceTokenRow is the device_tokens table representation.
type deviceTokenRow struct {
	Token string `json:"token"`
}

// ListDeviceTokens retrieves the push tokens registered for a user.
func (s *SupabaseStore) ListDeviceTokens(ctx context.Context, userID string) ([]string, error) {
	data, _, err := s.client.From(deviceTokensTable).
		Select("token", "exact", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing device tokens: %w", err)
	}

	var rows []deviceTokenRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing device tokens: %w", err)
	}

	tokens := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Token != "" {
			tokens = append(tokens, r.Token)
		}
	}
	return tokens, nil
}

// profileRow is the profiles table representation.
type profileRow struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// GetUserNames resolves display names for a set of user ids.
func (s *SupabaseStore) GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	data, _, err := s.client.From(profilesTable).
		Select("id,display_name", "exact", false).
		In("id", userIDs).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching profiles: %w", err)
	}

	var rows []profileRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	names := make(map[string]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.DisplayName
	}
	return names, nil
}

// rowToNotification converts a notificationRow to a notify.Notification.
func rowToNotification(row *notificationRow) *notify.Notification {
	n := &notify.Notification{
		ID:           row.ID,
		RecipientID:  row.RecipientID,
		ActorID:      row.ActorID,
		Type:         notify.NotificationType(row.Type),
		Message:      row.Message,
		Count:        row.Count,
		SampleActors: row.SampleActors,
		Read:         row.Read,
	}

	if row.TargetType != nil {
		n.TargetType = *row.TargetType
	}
	if row.TargetID != nil {
		n.TargetID = *row.TargetID
	}
	if row.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
			n.CreatedAt = t
		}
	}
	if row.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.UpdatedAt); err == nil {
			n.UpdatedAt = t
		}
	}
	return n
}
