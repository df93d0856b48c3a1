// Package docs manages flat documentation records: identifier-keyed upserts,
// direct fetches, and cursor-paginated listing under a parent group. It shares
// the continuation-token contract with the activities listing.
package docs

import (
	"context"
	"strings"
	"time"

	"schedhub/internal/apperr"
	"schedhub/internal/cursor"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

type Record struct {
	Identifier    string    `json:"identifier"`
	ParentID      string    `json:"parentId,omitempty"`
	Title         string    `json:"title"`
	Documentation string    `json:"documentation"`
	ModifiedOn    time.Time `json:"modifiedOn"`
}

// Page is one slice of a parent's records. NextOffsetKey is empty on the
// last page.
type Page struct {
	Items         []Record `json:"items"`
	NextOffsetKey string   `json:"nextPageOffsetKey,omitempty"`
}

type Service struct {
	store storage.Store
	log   logx.Logger
}

func NewService(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// CreateOrUpdate upserts a record by identifier.
func (s *Service) CreateOrUpdate(ctx context.Context, r Record) error {
	if strings.TrimSpace(r.Identifier) == "" {
		return apperr.E(apperr.KindBadRequest, "documentation identifier is required")
	}
	return s.store.PutDoc(ctx, storage.DocRecord{
		Identifier:    r.Identifier,
		ParentID:      r.ParentID,
		Title:         r.Title,
		Documentation: r.Documentation,
		ModifiedAt:    time.Now().UTC(),
	})
}

func (s *Service) Get(ctx context.Context, identifier string) (Record, error) {
	rec, err := s.store.GetDoc(ctx, identifier)
	if err != nil {
		return Record{}, err
	}
	return fromRecord(rec), nil
}

func shape(parentID string) string { return "docs/" + parentID }

// List returns one page of a parent's records in creation order. offsetKey
// resumes a previous listing; a key minted for a different parent fails with
// InvalidCursor.
func (s *Service) List(ctx context.Context, parentID, offsetKey string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	var afterSeq int64
	if offsetKey != "" {
		pos, err := cursor.Decode(offsetKey, shape(parentID))
		if err != nil {
			return Page{}, err
		}
		afterSeq = pos.Seq
	}

	// Fetch one extra row to learn whether another page exists.
	recs, err := s.store.ListDocs(ctx, parentID, afterSeq, pageSize+1)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: make([]Record, 0, min(len(recs), pageSize))}
	more := len(recs) > pageSize
	if more {
		recs = recs[:pageSize]
	}
	for _, rec := range recs {
		page.Items = append(page.Items, fromRecord(rec))
	}
	if more {
		last := recs[len(recs)-1]
		page.NextOffsetKey = cursor.Encode(cursor.Position{Seq: last.Seq}, shape(parentID))
	}
	return page, nil
}

func (s *Service) Delete(ctx context.Context, identifier string) error {
	return s.store.DeleteDoc(ctx, identifier)
}

// DeleteForParent removes every record under parentID; all-or-nothing.
func (s *Service) DeleteForParent(ctx context.Context, parentID string) (int64, error) {
	n, err := s.store.DeleteDocsForParent(ctx, parentID)
	if err != nil {
		return 0, err
	}
	s.log.Info("documentation purged", logx.String("parent", parentID), logx.Int64("removed", n))
	return n, nil
}

func fromRecord(rec storage.DocRecord) Record {
	return Record{
		Identifier:    rec.Identifier,
		ParentID:      rec.ParentID,
		Title:         rec.Title,
		Documentation: rec.Documentation,
		ModifiedOn:    rec.ModifiedAt,
	}
}
