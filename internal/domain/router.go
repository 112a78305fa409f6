package domain

import "context"

// Router delivers outbound messages to live connections. The local connection registry
// and the cross-instance relay both implement it.
type Router interface {
	SendToPrincipal(ctx context.Context, id PrincipalID, msg Message) error
	BroadcastToRole(ctx context.Context, class RoleClass, msg Message) error
}
