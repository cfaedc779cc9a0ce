// Package store is the in-process item store: the SQLite database plus the
// change hub that announces every successful write to the group's
// subscribers.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/feed"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Directory covers group, membership and user-profile management.
// Both the in-process store and the HTTP client implement it.
type Directory interface {
	CreateGroup(ctx context.Context, name, ownerID string) (schema.Group, error)
	GetGroup(ctx context.Context, groupID string) (schema.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]schema.Group, error)
	JoinGroup(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]schema.Member, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	UpsertUserProfile(ctx context.Context, p schema.UserProfile) error
	ListUsers(ctx context.Context) ([]schema.UserProfile, error)
}

// Local serves items straight from the database and publishes changes to
// an in-process hub.
//
// Item writes are serialized with their announcements, so subscribers see
// changes in the order they were committed.
type Local struct {
	db     *db.DB
	hub    *feed.Hub
	logger *zap.Logger

	writeMu sync.Mutex
}

// New creates a Local store. The database must have its schema initialized.
// If logger is nil, logging is disabled.
func New(database *db.DB, hub *feed.Hub, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hub == nil {
		hub = feed.NewHub(&feed.HubConfig{Logger: logger})
	}
	return &Local{
		db:     database,
		hub:    hub,
		logger: logger.Named("store"),
	}
}

// Hub returns the change hub writes are published to.
func (s *Local) Hub() *feed.Hub {
	return s.hub
}

// DB returns the underlying database.
func (s *Local) DB() *db.DB {
	return s.db
}

// FetchItems returns a group's items, newest first.
func (s *Local) FetchItems(ctx context.Context, groupID string) ([]schema.Item, error) {
	items, err := s.db.ListItems(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}
	return items, nil
}

// AddItem creates an item and announces the insert.
func (s *Local) AddItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	item, err := s.db.CreateItem(ctx, groupID, name, icon, category)
	if err != nil {
		return schema.Item{}, fmt.Errorf("failed to add item: %w", err)
	}

	s.logger.Debug("item added", zap.String("group", groupID), zap.String("id", item.ID), zap.String("name", item.Name))
	s.hub.Publish(feed.Inserted(item))
	return item, nil
}

// SetCompleted updates an item's completion flag and announces the update.
func (s *Local) SetCompleted(ctx context.Context, id string, completed bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	item, err := s.db.SetItemCompleted(ctx, id, completed)
	if err != nil {
		return fmt.Errorf("failed to set completion: %w", err)
	}

	s.logger.Debug("item updated", zap.String("id", id), zap.Bool("completed", completed))
	s.hub.Publish(feed.Updated(item))
	return nil
}

// DeleteItem removes an item and announces the delete. Deleting an item
// that does not exist succeeds without an announcement.
func (s *Local) DeleteItem(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	item, err := s.db.DeleteItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if item == nil {
		return nil
	}

	s.logger.Debug("item deleted", zap.String("group", item.GroupID), zap.String("id", id))
	s.hub.Publish(feed.Deleted(item.GroupID, id))
	return nil
}

// DeleteCompleted removes a group's completed items.
func (s *Local) DeleteCompleted(ctx context.Context, groupID string) error {
	return s.deleteItems(ctx, groupID, true)
}

// DeleteAll removes every item in a group.
func (s *Local) DeleteAll(ctx context.Context, groupID string) error {
	return s.deleteItems(ctx, groupID, false)
}

func (s *Local) deleteItems(ctx context.Context, groupID string, completedOnly bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids, err := s.db.DeleteItems(ctx, groupID, completedOnly)
	if err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	s.logger.Debug("items cleared",
		zap.String("group", groupID),
		zap.Bool("completed_only", completedOnly),
		zap.Int("count", len(ids)))
	for _, id := range ids {
		s.hub.Publish(feed.Deleted(groupID, id))
	}
	return nil
}

// Subscribe opens the group's change stream.
func (s *Local) Subscribe(ctx context.Context, groupID string) (feed.Subscription, error) {
	if _, err := s.db.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return s.hub.Subscribe(groupID), nil
}

// ImportItems writes items into a group, keeping their IDs and timestamps,
// and announces each one. Returns the number written.
//
// An ID that already belongs to another group is replaced by one derived
// from the target group and the original ID, so importing another group's
// export copies its items and a repeated import updates those copies.
func (s *Local) ImportItems(ctx context.Context, groupID string, items []schema.Item) (int, error) {
	if _, err := s.db.GetGroup(ctx, groupID); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for i := range items {
		item := items[i]
		item.GroupID = groupID

		existing, err := s.db.GetItem(ctx, item.ID)
		if err == nil && existing.GroupID != groupID {
			item.ID = importedID(groupID, item.ID)
			_, err = s.db.GetItem(ctx, item.ID)
		}
		existed := err == nil

		if err := s.db.UpsertItem(ctx, &item); err != nil {
			s.logger.Warn("skipping item", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		if existed {
			s.hub.Publish(feed.Updated(item))
		} else {
			s.hub.Publish(feed.Inserted(item))
		}
		written++
	}
	return written, nil
}

// importedID derives a stable ID for a copy of itemID in groupID.
func importedID(groupID, itemID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("cart:"+groupID+"/"+itemID)).String()
}

// CreateGroup implements Directory.
func (s *Local) CreateGroup(ctx context.Context, name, ownerID string) (schema.Group, error) {
	g, err := s.db.CreateGroup(ctx, name, ownerID)
	if err != nil {
		return schema.Group{}, err
	}
	s.logger.Info("group created", zap.String("group", g.ID), zap.String("owner", ownerID))
	return g, nil
}

// GetGroup implements Directory.
func (s *Local) GetGroup(ctx context.Context, groupID string) (schema.Group, error) {
	return s.db.GetGroup(ctx, groupID)
}

// ListUserGroups implements Directory.
func (s *Local) ListUserGroups(ctx context.Context, userID string) ([]schema.Group, error) {
	return s.db.ListUserGroups(ctx, userID)
}

// JoinGroup implements Directory.
func (s *Local) JoinGroup(ctx context.Context, groupID, userID string) error {
	if _, err := s.db.AddMember(ctx, groupID, userID, schema.RoleMember); err != nil {
		return err
	}
	s.logger.Info("member joined", zap.String("group", groupID), zap.String("user", userID))
	return nil
}

// ListMembers implements Directory.
func (s *Local) ListMembers(ctx context.Context, groupID string) ([]schema.Member, error) {
	return s.db.ListMembers(ctx, groupID)
}

// AddMember implements Directory.
func (s *Local) AddMember(ctx context.Context, groupID, userID string) error {
	return s.JoinGroup(ctx, groupID, userID)
}

// RemoveMember implements Directory.
func (s *Local) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := s.db.RemoveMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.logger.Info("member removed", zap.String("group", groupID), zap.String("user", userID))
	return nil
}

// UpsertUserProfile implements Directory.
func (s *Local) UpsertUserProfile(ctx context.Context, p schema.UserProfile) error {
	return s.db.UpsertUserProfile(ctx, p)
}

// ListUsers implements Directory.
func (s *Local) ListUsers(ctx context.Context) ([]schema.UserProfile, error) {
	return s.db.ListUsers(ctx)
}
