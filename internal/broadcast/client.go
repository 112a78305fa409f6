package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pscheid92/medidash/internal/domain"
)

var errSendRejected = errors.New("connection send rejected")

// Client is one registered connection. The registry identifies entries by the
// *Client pointer, never by principal, so a reconnect is a distinct entry.
type Client struct {
	id        uuid.UUID
	principal domain.PrincipalID
	class     domain.RoleClass
	writer    *clientWriter
}

func (c *Client) ID() uuid.UUID                 { return c.id }
func (c *Client) Principal() domain.PrincipalID { return c.principal }
func (c *Client) Class() domain.RoleClass       { return c.class }

// Send queues a reply on this connection only. It shares the writer with
// registry sends, so frame order on the connection is call order.
func (c *Client) Send(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	if !c.writer.trySend(data) {
		return errSendRejected
	}
	return nil
}
