// Package chat implements the messaging core of the certificate portal:
// bounded message windows with cursor pagination, live window updates with
// history suppression, the per-principal request directory, the live unread
// total, and read-state batch updates.
package chat

import (
	"time"

	"github.com/civicstack/certificate-portal/internal/docstore"
	"github.com/civicstack/certificate-portal/internal/model"
)

func requestFromDoc(doc docstore.Document) model.Request {
	return model.Request{
		ID:              doc.Ref.ID,
		FullName:        stringField(doc.Data, model.FieldFullName),
		VoterID:         stringField(doc.Data, model.FieldVoterID),
		Status:          stringField(doc.Data, model.FieldStatus),
		SubmittedAt:     timeField(doc.Data, model.FieldSubmittedAt),
		Email:           stringField(doc.Data, model.FieldEmail),
		Purpose:         stringField(doc.Data, model.FieldPurpose),
		CopiesRequested: intField(doc.Data, model.FieldCopiesRequested),
	}
}

func messageFromDoc(requestID string, doc docstore.Document) model.Message {
	return model.Message{
		ID:          doc.Ref.ID,
		RequestID:   requestID,
		Sender:      model.Role(stringField(doc.Data, model.FieldSender)),
		SenderID:    stringField(doc.Data, model.FieldSenderID),
		Body:        stringField(doc.Data, model.FieldBody),
		Timestamp:   timeField(doc.Data, model.FieldTimestamp),
		ReadByVoter: boolField(doc.Data, model.FieldReadByVoter),
		ReadByStaff: boolField(doc.Data, model.FieldReadByStaff),
	}
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolField(data map[string]any, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func timeField(data map[string]any, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
