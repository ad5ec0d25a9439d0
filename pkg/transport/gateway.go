// Transport gateway with fallback escalation.
package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/consync/consync/pkg/models"
	"github.com/consync/consync/pkg/utils"
)

// Gateway issues remote calls through an ordered list of execution paths.
// Every operation attempts the paths in order and short-circuits on the
// first success. An auth rejection is surfaced immediately and never
// retried on a later path. Escalation is evaluated per call; a successful
// fallback is not promoted for subsequent calls.
type Gateway struct {
	clients []Client
	logger  *slog.Logger
}

// NewGateway builds a gateway over the given paths, primary first.
func NewGateway(clients ...Client) *Gateway {
	return &Gateway{
		clients: clients,
		logger:  utils.GetLogger(),
	}
}

// escalate runs op against each path in order.
func escalate[T any](g *Gateway, operation string, op func(Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i, client := range g.clients {
		result, err := op(client)
		if err == nil {
			if i > 0 {
				g.logger.Info("operation succeeded via fallback path", "operation", operation, "path", client.Name())
			}
			return result, nil
		}
		if IsAuthRejected(err) {
			// Retrying with the same credential through a different
			// mechanism cannot succeed.
			return zero, err
		}
		g.logger.Warn("transport path failed", "operation", operation, "path", client.Name(), "error", err)
		lastErr = err
	}

	return zero, fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, operation, lastErr)
}

func (g *Gateway) ListConversations(ctx context.Context, cred *models.CredentialBundle) ([]models.Conversation, error) {
	return escalate(g, "list conversations", func(c Client) ([]models.Conversation, error) {
		return c.ListConversations(ctx, cred)
	})
}

func (g *Gateway) CreateConversation(ctx context.Context, cred *models.CredentialBundle, title string) (string, error) {
	return escalate(g, "create conversation", func(c Client) (string, error) {
		return c.CreateConversation(ctx, cred, title)
	})
}

func (g *Gateway) FetchConversation(ctx context.Context, cred *models.CredentialBundle, id string) ([]byte, error) {
	return escalate(g, "fetch conversation", func(c Client) ([]byte, error) {
		return c.FetchConversation(ctx, cred, id)
	})
}

// SendMessage returns the final reply text and whether it was delivered
// incrementally to onUpdate.
func (g *Gateway) SendMessage(ctx context.Context, cred *models.CredentialBundle, conversationID, prompt, parentMessageID string, onUpdate func(string)) (text string, streamed bool, err error) {
	text, err = escalate(g, "send message", func(c Client) (string, error) {
		return c.SendMessage(ctx, cred, conversationID, prompt, parentMessageID, onUpdate)
	})
	return text, onUpdate != nil && err == nil, err
}

// TestConnection reports whether any path can list conversations. This is
// the contract used by connectivity probing and statistics reporting.
func (g *Gateway) TestConnection(ctx context.Context, cred *models.CredentialBundle) bool {
	_, err := g.ListConversations(ctx, cred)
	return err == nil
}
