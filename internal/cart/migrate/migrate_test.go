package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cartsync/cart/internal/cart/db"
	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/cartsync/cart/internal/cart/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGroup struct {
	group    schema.Group
	items    []schema.Item
	imported []schema.Item
}

func (m *memGroup) GetGroup(_ context.Context, id string) (schema.Group, error) {
	return m.group, nil
}

func (m *memGroup) FetchItems(_ context.Context, id string) ([]schema.Item, error) {
	return m.items, nil
}

func (m *memGroup) ImportItems(_ context.Context, groupID string, items []schema.Item) (int, error) {
	m.imported = append(m.imported, items...)
	return len(items), nil
}

func sampleItems() []schema.Item {
	return []schema.Item{
		{ID: "a", GroupID: "g", Name: "milk", Icon: "🥛", Category: "Dairy", CreatedAt: time.UnixMilli(2000).UTC()},
		{ID: "b", GroupID: "g", Name: "חלה", Completed: true, CreatedAt: time.UnixMilli(1000).UTC()},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"YAML", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"ndjson", FormatJSONL, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	f, err := FormatFromPath("/tmp/list.jsonl")
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
	_, err = FormatFromPath("/tmp/list")
	assert.Error(t, err)
}

func TestExportReadEachFormat(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML, FormatJSONL} {
		t.Run(string(format), func(t *testing.T) {
			src := &memGroup{group: schema.Group{ID: "g", Name: "home"}, items: sampleItems()}

			var buf bytes.Buffer
			n, err := Export(context.Background(), src, "g", &buf, format)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			items, err := Read(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, sampleItems(), items)
		})
	}
}

func TestJSONLHasOneItemPerLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Document{Items: sampleItems()}, FormatJSONL))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, buf.String(), "Pending")
}

func TestReadJSONLReportsLine(t *testing.T) {
	_, err := Read(strings.NewReader("{\"id\":\"a\"}\n\n{oops\n"), FormatJSONL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
group_id: other
items:
  - id: a
    name: milk
    created_at: 2024-01-01T10:00:00Z
  - name: bread
  - id: c
    name: ""
`), 0o600))

	dst := &memGroup{}
	res, err := Import(context.Background(), dst, ImportOptions{Path: path, GroupID: "g"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Read)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 2, res.Written)
	require.Len(t, dst.imported, 2)
	for _, it := range dst.imported {
		assert.Equal(t, "g", it.GroupID, "items move to the target group")
		assert.NotEmpty(t, it.ID)
		assert.False(t, it.CreatedAt.IsZero())
	}
}

func TestImportExportIntoAnotherGroup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	database, err := db.Open(filepath.Join(dir, "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())
	s := store.New(database, nil, nil)
	t.Cleanup(s.Hub().Close)

	home, err := s.CreateGroup(ctx, "Home", "alice")
	require.NoError(t, err)
	cabin, err := s.CreateGroup(ctx, "Cabin", "alice")
	require.NoError(t, err)
	milk, err := s.AddItem(ctx, home.ID, "milk", "🥛", "Dairy")
	require.NoError(t, err)

	path := filepath.Join(dir, "home.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = Export(ctx, s, home.ID, f, FormatJSON)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for i := 0; i < 2; i++ {
		res, err := Import(ctx, s, ImportOptions{Path: path, GroupID: cabin.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)
	}

	copied, err := s.FetchItems(ctx, cabin.ID)
	require.NoError(t, err)
	require.Len(t, copied, 1, "repeated imports update the same copy")
	assert.NotEqual(t, milk.ID, copied[0].ID)
	assert.Equal(t, "milk", copied[0].Name)

	original, err := s.FetchItems(ctx, home.ID)
	require.NoError(t, err)
	require.Len(t, original, 1)
	assert.Equal(t, milk.ID, original[0].ID)
}

func TestImportDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"a","name":"milk","created_at":"2024-01-01T10:00:00Z"}`+"\n"), 0o600))

	dst := &memGroup{}
	res, err := Import(context.Background(), dst, ImportOptions{Path: path, GroupID: "g", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Read)
	assert.Zero(t, res.Written)
	assert.Empty(t, dst.imported)
}

func TestImportMissingFile(t *testing.T) {
	_, err := Import(context.Background(), &memGroup{}, ImportOptions{Path: filepath.Join(t.TempDir(), "x.json"), GroupID: "g"})
	assert.Error(t, err)
}
