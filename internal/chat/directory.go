package chat

import (
	"context"
	"fmt"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
)

// Directory resolves which requests a principal can chat about. Voters see
// requests filed under their own email; staff and admins see all. Declined
// and rejected requests are filtered out before delivery.
type Directory struct {
	store docstore.Store
	log   *logger.Logger
}

// NewDirectory creates a directory.
func NewDirectory(store docstore.Store, log *logger.Logger) *Directory {
	return &Directory{store: store, log: log}
}

func visibleQuery(principal model.Principal) docstore.Query {
	q := docstore.Query{
		Collection: model.RequestsCollection,
		OrderBy:    &docstore.Order{Field: model.FieldSubmittedAt, Descending: true},
	}
	if principal.Role.ChatSide() == model.RoleVoter {
		q.Filters = []docstore.Filter{
			{Field: model.FieldEmail, Op: docstore.OpEqual, Value: principal.Email},
		}
	}
	return q
}

// List returns the principal's visible requests, newest first.
func (d *Directory) List(ctx context.Context, principal model.Principal) ([]model.Request, error) {
	docs, err := d.store.Query(ctx, visibleQuery(principal))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return visibleFromDocs(docs), nil
}

// Get returns one visible request, or docstore.ErrNotFound when the id does
// not exist or sits outside the principal's visible set.
func (d *Directory) Get(ctx context.Context, principal model.Principal, requestID string) (model.Request, error) {
	doc, err := d.store.Get(ctx, docstore.DocRef{Collection: model.RequestsCollection, ID: requestID})
	if err != nil {
		return model.Request{}, err
	}

	req := requestFromDoc(doc)
	if req.Excluded() {
		return model.Request{}, docstore.ErrNotFound
	}
	if principal.Role.ChatSide() == model.RoleVoter && req.Email != principal.Email {
		return model.Request{}, docstore.ErrNotFound
	}
	return req, nil
}

// Listen streams the principal's visible request set. Each emission carries
// the full current set with excluded requests already removed.
func (d *Directory) Listen(ctx context.Context, principal model.Principal, fn func([]model.Request)) (docstore.Unsubscribe, error) {
	unsub, err := d.store.Subscribe(ctx, visibleQuery(principal), func(docs []docstore.Document) {
		fn(visibleFromDocs(docs))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch requests: %w", err)
	}
	return unsub, nil
}

func visibleFromDocs(docs []docstore.Document) []model.Request {
	reqs := make([]model.Request, 0, len(docs))
	for _, doc := range docs {
		req := requestFromDoc(doc)
		if req.Excluded() {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs
}

// Partition splits visible requests into active and archived, applying an
// optional case-insensitive requester-name filter first.
func Partition(reqs []model.Request, nameFilter string) (active, archived []model.Request) {
	for _, req := range reqs {
		if !req.MatchesName(nameFilter) {
			continue
		}
		if req.Archived() {
			archived = append(archived, req)
		} else {
			active = append(active, req)
		}
	}
	return active, archived
}

// Reselect applies the directory's selection rule after an emission: keep the
// current selection if it is still present, otherwise fall back to the first
// active request, then the first archived one, then nothing.
func Reselect(selectedID string, active, archived []model.Request) string {
	if selectedID != "" {
		for _, req := range active {
			if req.ID == selectedID {
				return selectedID
			}
		}
		for _, req := range archived {
			if req.ID == selectedID {
				return selectedID
			}
		}
	}
	if len(active) > 0 {
		return active[0].ID
	}
	if len(archived) > 0 {
		return archived[0].ID
	}
	return ""
}
