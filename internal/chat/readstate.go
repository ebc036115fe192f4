package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
	"github.com/civicstack/certificate-portal/pkg/logger"
	"github.com/civicstack/certificate-portal/pkg/metrics"
)

// ReadMarker flips read flags for one side of a conversation. Flags are
// idempotently true once set and never revert; concurrent marks are safe
// under the store's last-write-wins policy.
type ReadMarker struct {
	store docstore.Store
	log   *logger.Logger
}

// NewReadMarker creates a read marker.
func NewReadMarker(store docstore.Store, log *logger.Logger) *ReadMarker {
	return &ReadMarker{store: store, log: log}
}

// MarkRead marks every message sent by the counterpart and still unread for
// the given role as read, in one atomic batch. Returns the number of messages
// flipped; zero when there was nothing to do.
func (r *ReadMarker) MarkRead(ctx context.Context, requestID string, role model.Role) (int, error) {
	side := role.ChatSide()
	collection := model.MessagesCollection(requestID)

	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: collection,
		Filters: []docstore.Filter{
			{Field: model.FieldSender, Op: docstore.OpEqual, Value: string(side.Counterpart())},
			{Field: side.ReadFlagField(), Op: docstore.OpEqual, Value: false},
		},
	})
	if err != nil {
		metrics.ReadMarksTotal.WithLabelValues(string(side), "error").Inc()
		return 0, fmt.Errorf("failed to find unread messages: %w", err)
	}

	if len(docs) == 0 {
		metrics.ReadMarksTotal.WithLabelValues(string(side), "noop").Inc()
		return 0, nil
	}

	updates := make([]docstore.Update, len(docs))
	for i, doc := range docs {
		updates[i] = docstore.Update{
			Ref:    doc.Ref,
			Fields: map[string]any{side.ReadFlagField(): true},
		}
	}

	if err := r.store.BatchUpdate(ctx, updates); err != nil {
		metrics.ReadMarksTotal.WithLabelValues(string(side), "error").Inc()
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	metrics.ReadMarksTotal.WithLabelValues(string(side), "ok").Inc()
	r.log.Debug("marked messages read",
		zap.String("request_id", requestID),
		zap.String("role", string(side)),
		zap.Int("count", len(updates)),
	)

	return len(updates), nil
}
