package httpserver

import "github.com/labstack/echo/v4"

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws/connect", s.handleWebSocketConnect)
	s.echo.GET("/ws/:user_id", s.handleWebSocket)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	s.websocket.Serve(c.Response(), c.Request(), c.RealIP(), c.Param("user_id"))
	return nil
}

// handleWebSocketConnect identifies the principal from the token alone.
func (s *Server) handleWebSocketConnect(c echo.Context) error {
	s.websocket.Serve(c.Response(), c.Request(), c.RealIP(), "")
	return nil
}
