package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/medidash/internal/domain"
	apperrors "github.com/pscheid92/medidash/internal/platform/errors"
)

type presenceResponse struct {
	UserID      int64  `json:"user_id"`
	RoleClass   string `json:"role_class"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

type connectionsResponse struct {
	Total      int            `json:"total"`
	Principals int            `json:"principals"`
	Classes    map[string]int `json:"classes"`
}

// handlePresence reports live connections on this instance only.
func (s *Server) handlePresence(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		return apperrors.ValidationError("invalid user id")
	}

	principal, err := s.principals.LookupPrincipal(ctx, domain.PrincipalID(id))
	if errors.Is(err, domain.ErrPrincipalNotFound) {
		return apperrors.NotFoundError("user not found").WithField("user_id", id)
	}
	if err != nil {
		return apperrors.InternalError("failed to look up user", err)
	}

	snapshot, err := s.presence.Snapshot(ctx)
	if err != nil {
		return apperrors.UnavailableError("connection registry unavailable")
	}

	resp := presenceResponse{
		UserID:      id,
		Connections: snapshot.Principals[principal.ID],
	}
	resp.Online = resp.Connections > 0
	if class, err := domain.ClassForRole(principal.Role); err == nil {
		resp.RoleClass = class.WireName()
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write presence response: %w", err)
	}
	return nil
}

func (s *Server) handleConnections(c echo.Context) error {
	snapshot, err := s.presence.Snapshot(c.Request().Context())
	if err != nil {
		return apperrors.UnavailableError("connection registry unavailable")
	}

	resp := connectionsResponse{
		Total:      snapshot.Total(),
		Principals: len(snapshot.Principals),
		Classes:    make(map[string]int, len(snapshot.Classes)),
	}
	for class, n := range snapshot.Classes {
		resp.Classes[class.WireName()] = n
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write connections response: %w", err)
	}
	return nil
}

func (s *Server) handleInstances(c echo.Context) error {
	instances, err := s.instances.ActiveInstances(c.Request().Context())
	if err != nil {
		return apperrors.ExternalError("failed to list instances", err)
	}

	total := 0
	for _, inst := range instances {
		total += inst.Connections
	}

	resp := map[string]any{
		"instances":   instances,
		"connections": total,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write instances response: %w", err)
	}
	return nil
}
