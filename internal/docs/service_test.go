package docs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"schedhub/internal/apperr"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, logx.Nop())
}

func seed(t *testing.T, s *Service, parent string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.CreateOrUpdate(context.Background(), Record{
			Identifier:    fmt.Sprintf("%s-doc-%02d", parent, i),
			ParentID:      parent,
			Title:         fmt.Sprintf("Doc %d", i),
			Documentation: "body",
		})
		if err != nil {
			t.Fatalf("CreateOrUpdate: %v", err)
		}
	}
}

func TestCreateRequiresIdentifier(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	err := s.CreateOrUpdate(context.Background(), Record{Identifier: "  "})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	if err := s.CreateOrUpdate(ctx, Record{Identifier: "d1", ParentID: "grp", Title: "v1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOrUpdate(ctx, Record{Identifier: "d1", ParentID: "grp", Title: "v2"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "v2" || got.ModifiedOn.IsZero() {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	seed(t, s, "grp", 10)
	seed(t, s, "other", 3)

	page1, err := s.List(ctx, "grp", "", 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1.Items) != 5 || page1.NextOffsetKey == "" {
		t.Fatalf("unexpected first page: %d items, key %q", len(page1.Items), page1.NextOffsetKey)
	}

	page2, err := s.List(ctx, "grp", page1.NextOffsetKey, 5)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2.Items) != 5 || page2.NextOffsetKey != "" {
		t.Fatalf("unexpected last page: %d items, key %q", len(page2.Items), page2.NextOffsetKey)
	}

	seen := make(map[string]bool)
	for _, r := range append(page1.Items, page2.Items...) {
		if r.ParentID != "grp" {
			t.Fatalf("foreign record in page: %+v", r)
		}
		if seen[r.Identifier] {
			t.Fatalf("duplicate across pages: %s", r.Identifier)
		}
		seen[r.Identifier] = true
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct records, got %d", len(seen))
	}
}

func TestListRejectsForeignCursor(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	seed(t, s, "grp-a", 3)
	seed(t, s, "grp-b", 3)

	pageA, err := s.List(ctx, "grp-a", "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := s.List(ctx, "grp-b", pageA.NextOffsetKey, 2); !apperr.IsInvalidCursor(err) {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
	if _, err := s.List(ctx, "grp-a", "garbage", 2); !apperr.IsInvalidCursor(err) {
		t.Fatalf("expected invalid cursor for garbage key, got %v", err)
	}
}

func TestDeleteForParent(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	ctx := context.Background()

	seed(t, s, "grp", 4)
	seed(t, s, "other", 1)

	n, err := s.DeleteForParent(ctx, "grp")
	if err != nil {
		t.Fatalf("DeleteForParent: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 removed, got %d", n)
	}
	page, err := s.List(ctx, "grp", "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("parent not emptied: %+v", page.Items)
	}
	if _, err := s.Get(ctx, "other-doc-00"); err != nil {
		t.Fatalf("other parent must be untouched: %v", err)
	}
}
