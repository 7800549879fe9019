package outbox

import (
	"fmt"

	"estatesettle/internal/models"
)

// Subject types carried on outbox rows, notifications and receipts.
const (
	SubjectDistribution = "distribution"
	SubjectProposal     = "proposal"
	SubjectVote         = "vote"
	SubjectWithdrawal   = "withdrawal"
)

// Notarize builds a ledger notarization message. The key makes a second
// enqueue of the same event a no-op.
func Notarize(subjectType string, subjectID uint, topicID, event string, body map[string]interface{}) models.OutboxMessage {
	return models.OutboxMessage{
		Kind:           models.OutboxNotarize,
		IdempotencyKey: fmt.Sprintf("notarize:%s:%d:%s", subjectType, subjectID, event),
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Payload: models.JSONMap{
			"topic_id": topicID,
			"event":    event,
			"body":     body,
		},
	}
}

// Notify builds a user notification message.
func Notify(userID, kind, title, body, subjectType string, subjectID uint) models.OutboxMessage {
	return models.OutboxMessage{
		Kind:           models.OutboxNotify,
		IdempotencyKey: fmt.Sprintf("notify:%s:%d:%s:%s", subjectType, subjectID, kind, userID),
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Payload: models.JSONMap{
			"user_id": userID,
			"kind":    kind,
			"title":   title,
			"body":    body,
		},
	}
}

// Payout builds the message that settles a distribution's payments.
func Payout(distributionID uint) models.OutboxMessage {
	return models.OutboxMessage{
		Kind:           models.OutboxPayout,
		IdempotencyKey: fmt.Sprintf("payout:%d", distributionID),
		SubjectType:    SubjectDistribution,
		SubjectID:      distributionID,
		Payload:        models.JSONMap{"distribution_id": distributionID},
	}
}

// NotarizeRequest is the decoded payload of a notarize message.
type NotarizeRequest struct {
	SubjectType string
	SubjectID   uint
	TopicID     string
	Event       string
	Body        map[string]interface{}
}

// DecodeNotarize reads a notarize message back into a request.
func DecodeNotarize(m models.OutboxMessage) NotarizeRequest {
	req := NotarizeRequest{SubjectType: m.SubjectType, SubjectID: m.SubjectID}
	req.TopicID, _ = m.Payload["topic_id"].(string)
	req.Event, _ = m.Payload["event"].(string)
	req.Body, _ = m.Payload["body"].(map[string]interface{})
	return req
}

// DecodeNotify reads a notify message back into a notification row.
func DecodeNotify(m models.OutboxMessage) models.Notification {
	n := models.Notification{
		SubjectType: m.SubjectType,
		SubjectID:   m.SubjectID,
		DedupKey:    m.IdempotencyKey,
	}
	n.UserID, _ = m.Payload["user_id"].(string)
	n.Kind, _ = m.Payload["kind"].(string)
	n.Title, _ = m.Payload["title"].(string)
	n.Body, _ = m.Payload["body"].(string)
	return n
}
