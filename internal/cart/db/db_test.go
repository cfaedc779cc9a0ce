package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cartsync/cart/internal/cart/schema"
)

// openTestDB returns an initialized database in a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func TestOpen_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cart.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"items", "groups", "group_members", "user_profiles"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestClose_Twice(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestCreateGroup_EnrollsOwner(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	group, err := db.CreateGroup(ctx, "  Family  ", "alice")
	if err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	if group.Name != "Family" {
		t.Errorf("Name = %q, want trimmed", group.Name)
	}

	members, err := db.ListMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListMembers() failed: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "alice" || members[0].Role != schema.RoleOwner {
		t.Errorf("members = %+v, want alice as owner", members)
	}

	got, err := db.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup() failed: %v", err)
	}
	if got.OwnerUserID != "alice" || !got.CreatedAt.Equal(group.CreatedAt) {
		t.Errorf("GetGroup() = %+v, want %+v", got, group)
	}
}

func TestGetGroup_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetGroup(context.Background(), "missing")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}
}

func TestListUserGroups_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	db.SetClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	older, _ := db.CreateGroup(ctx, "Home", "alice")
	newer, _ := db.CreateGroup(ctx, "Cabin", "bob")
	if _, err := db.AddMember(ctx, newer.ID, "alice", schema.RoleMember); err != nil {
		t.Fatalf("AddMember() failed: %v", err)
	}
	if _, err := db.CreateGroup(ctx, "Office", "carol"); err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}

	groups, err := db.ListUserGroups(ctx, "alice")
	if err != nil {
		t.Fatalf("ListUserGroups() failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].ID != newer.ID || groups[1].ID != older.ID {
		t.Errorf("order = [%s %s], want [%s %s]", groups[0].Name, groups[1].Name, newer.Name, older.Name)
	}
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	group, _ := db.CreateGroup(ctx, "Home", "alice")

	if _, err := db.AddMember(ctx, group.ID, "bob", schema.RoleMember); err != nil {
		t.Fatalf("AddMember() failed: %v", err)
	}
	if _, err := db.AddMember(ctx, group.ID, "bob", schema.RoleMember); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("duplicate AddMember() error = %v, want ErrAlreadyMember", err)
	}
	if _, err := db.AddMember(ctx, "missing", "bob", schema.RoleMember); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("AddMember() to missing group error = %v, want ErrGroupNotFound", err)
	}
	if _, err := db.AddMember(ctx, group.ID, "carol", schema.Role("admin")); err == nil {
		t.Error("AddMember() with invalid role should fail")
	}

	if err := db.RemoveMember(ctx, group.ID, "alice"); !errors.Is(err, ErrOwnerRemoval) {
		t.Errorf("RemoveMember(owner) error = %v, want ErrOwnerRemoval", err)
	}
	if err := db.RemoveMember(ctx, group.ID, "bob"); err != nil {
		t.Fatalf("RemoveMember() failed: %v", err)
	}
	if err := db.RemoveMember(ctx, group.ID, "bob"); !errors.Is(err, ErrNotMember) {
		t.Errorf("second RemoveMember() error = %v, want ErrNotMember", err)
	}

	ok, err := db.IsMember(ctx, group.ID, "bob")
	if err != nil || ok {
		t.Errorf("IsMember(bob) = %v, %v; want false, nil", ok, err)
	}
}

func TestItems_CRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	db.SetClock(fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	group, _ := db.CreateGroup(ctx, "Home", "alice")

	milk, err := db.CreateItem(ctx, group.ID, " milk ", "🥛", "Dairy")
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}
	if milk.ID == "" || milk.Name != "milk" || milk.CreatedAt.IsZero() {
		t.Errorf("CreateItem() = %+v, want server-assigned id, trimmed name and timestamp", milk)
	}
	bread, _ := db.CreateItem(ctx, group.ID, "bread", "🍞", "Bakery")

	items, err := db.ListItems(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListItems() failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != bread.ID || items[1].ID != milk.ID {
		t.Fatalf("ListItems() = %+v, want newest first", items)
	}

	updated, err := db.SetItemCompleted(ctx, milk.ID, true)
	if err != nil {
		t.Fatalf("SetItemCompleted() failed: %v", err)
	}
	if !updated.Completed {
		t.Error("SetItemCompleted() did not set flag")
	}
	if _, err := db.SetItemCompleted(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetItemCompleted(missing) error = %v, want ErrNotFound", err)
	}

	total, active, err := db.CountItems(ctx, group.ID)
	if err != nil || total != 2 || active != 1 {
		t.Errorf("CountItems() = %d, %d, %v; want 2, 1, nil", total, active, err)
	}

	deleted, err := db.DeleteItem(ctx, bread.ID)
	if err != nil || deleted == nil || deleted.ID != bread.ID {
		t.Errorf("DeleteItem() = %+v, %v", deleted, err)
	}
	deleted, err = db.DeleteItem(ctx, bread.ID)
	if err != nil || deleted != nil {
		t.Errorf("second DeleteItem() = %+v, %v; want nil, nil", deleted, err)
	}
}

func TestCreateItem_Validation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	group, _ := db.CreateGroup(ctx, "Home", "alice")

	if _, err := db.CreateItem(ctx, group.ID, "   ", "", ""); err == nil {
		t.Error("CreateItem() with blank name should fail")
	}
	if _, err := db.CreateItem(ctx, "missing", "milk", "", ""); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("CreateItem() in missing group error = %v, want ErrGroupNotFound", err)
	}
}

func TestDeleteItems(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	group, _ := db.CreateGroup(ctx, "Home", "alice")
	other, _ := db.CreateGroup(ctx, "Other", "alice")

	a, _ := db.CreateItem(ctx, group.ID, "a", "", "")
	b, _ := db.CreateItem(ctx, group.ID, "b", "", "")
	keep, _ := db.CreateItem(ctx, other.ID, "keep", "", "")
	_, _ = db.SetItemCompleted(ctx, a.ID, true)

	ids, err := db.DeleteItems(ctx, group.ID, true)
	if err != nil {
		t.Fatalf("DeleteItems(completed) failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("DeleteItems(completed) = %v, want [%s]", ids, a.ID)
	}

	ids, err = db.DeleteItems(ctx, group.ID, false)
	if err != nil {
		t.Fatalf("DeleteItems(all) failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("DeleteItems(all) = %v, want [%s]", ids, b.ID)
	}

	if _, err := db.GetItem(ctx, keep.ID); err != nil {
		t.Errorf("item in other group was removed: %v", err)
	}
}

func TestUpsertItem_KeepsGroup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	home, _ := db.CreateGroup(ctx, "Home", "alice")
	cabin, _ := db.CreateGroup(ctx, "Cabin", "alice")

	milk, err := db.CreateItem(ctx, home.ID, "milk", "", "")
	if err != nil {
		t.Fatalf("CreateItem() failed: %v", err)
	}

	// Same group: fields and timestamp are replaced.
	updated := milk
	updated.Name = "oat milk"
	updated.CreatedAt = milk.CreatedAt.Add(-time.Hour)
	if err := db.UpsertItem(ctx, &updated); err != nil {
		t.Fatalf("UpsertItem() same group failed: %v", err)
	}
	got, err := db.GetItem(ctx, milk.ID)
	if err != nil {
		t.Fatalf("GetItem() failed: %v", err)
	}
	if got.Name != "oat milk" || !got.CreatedAt.Equal(updated.CreatedAt) {
		t.Errorf("GetItem() = %+v, want name and created_at replaced", got)
	}

	// Other group: the row is left alone.
	moved := got
	moved.GroupID = cabin.ID
	moved.Name = "stolen"
	if err := db.UpsertItem(ctx, &moved); !errors.Is(err, ErrItemInOtherGroup) {
		t.Fatalf("UpsertItem() other group error = %v, want ErrItemInOtherGroup", err)
	}
	got, _ = db.GetItem(ctx, milk.ID)
	if got.GroupID != home.ID || got.Name != "oat milk" {
		t.Errorf("row changed by cross-group upsert: %+v", got)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	group, _ := db.CreateGroup(ctx, "Home", "alice")
	item, _ := db.CreateItem(ctx, group.ID, "milk", "", "")

	if _, err := db.conn.Exec(`DELETE FROM groups WHERE id = ?`, group.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if _, err := db.GetItem(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem() after group delete error = %v, want ErrNotFound", err)
	}
}

func TestUserProfiles(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := db.UpsertUserProfile(ctx, schema.UserProfile{ID: "u2", Email: "Zed@example.com"}); err != nil {
		t.Fatalf("UpsertUserProfile() failed: %v", err)
	}
	if err := db.UpsertUserProfile(ctx, schema.UserProfile{ID: "u1", Email: "amy@example.com", FullName: "Amy"}); err != nil {
		t.Fatalf("UpsertUserProfile() failed: %v", err)
	}
	if err := db.UpsertUserProfile(ctx, schema.UserProfile{ID: "u3", Email: "not-an-email"}); err == nil {
		t.Error("UpsertUserProfile() with bad email should fail")
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() failed: %v", err)
	}
	if len(users) != 2 || users[0].ID != "u1" || users[1].Email != "zed@example.com" {
		t.Errorf("ListUsers() = %+v", users)
	}

	u, err := db.FindUserByEmail(ctx, "ZED@example.com")
	if err != nil || u.ID != "u2" {
		t.Errorf("FindUserByEmail() = %+v, %v", u, err)
	}
	if _, err := db.FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("FindUserByEmail(missing) error = %v, want ErrUserNotFound", err)
	}
}
