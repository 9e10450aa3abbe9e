// Package push is the boundary to the push-notification collaborator. The
// delivery core only emits a signal per offline recipient per message;
// retry and best-effort delivery live on the other side of this interface.
package push

import (
	"go.uber.org/zap"
)

// Notifier receives the "recipient had zero online devices" signal.
type Notifier interface {
	NotifyOffline(conversationID, messageID, recipientID string)
}

type logNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a Notifier that records offline-recipient signals
// in the structured log. Deployments wire a real collaborator here.
func NewLogNotifier(logger *zap.Logger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) NotifyOffline(conversationID, messageID, recipientID string) {
	n.logger.Info("offline recipient, handing off to push notification",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.String("recipient_id", recipientID),
	)
}
