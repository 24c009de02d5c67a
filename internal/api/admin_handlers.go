package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/boardcast/internal/mapping"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/pkg/models"
)

// destinationRequest is the body for mapping and default-mapping writes.
type destinationRequest struct {
	BoardID string `json:"board_id"`
	ListID  string `json:"list_id"`
}

func (s *Server) listMappings(c echo.Context) error {
	mappings, err := s.mappings.List(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

func (s *Server) getMapping(c echo.Context) error {
	m, err := s.mappings.Get(c.Request().Context(), c.Param("guildID"), c.Param("channelID"))
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) setMapping(c echo.Context) error {
	var req destinationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.BoardID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "board_id is required",
		})
	}

	result, err := s.mappings.Set(c.Request().Context(), models.ChannelMapping{
		GuildID:   c.Param("guildID"),
		ChannelID: c.Param("channelID"),
		BoardID:   req.BoardID,
		ListID:    req.ListID,
	})
	if err != nil {
		return s.jsonError(c, err)
	}
	if result.Warning != "" {
		// Stored but not validated: Trello was unreachable. 202 tells the
		// caller the write took effect on degraded terms.
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) removeMapping(c echo.Context) error {
	err := s.mappings.Remove(c.Request().Context(), c.Param("guildID"), c.Param("channelID"))
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "removed",
	})
}

func (s *Server) getDefaultMapping(c echo.Context) error {
	def, err := s.mappings.GetDefault(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) setDefaultMapping(c echo.Context) error {
	var req destinationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.BoardID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "board_id is required",
		})
	}

	dest := models.Destination{BoardID: req.BoardID, ListID: req.ListID}
	result, err := s.mappings.SetDefault(c.Request().Context(), dest)
	if err != nil {
		return s.jsonError(c, err)
	}
	if result.Warning != "" {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) clearDefaultMapping(c echo.Context) error {
	if err := s.mappings.ClearDefault(c.Request().Context()); err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "default mapping cleared",
	})
}

func (s *Server) listRegistrations(c echo.Context) error {
	regs, err := s.store.ListRegistrations(c.Request().Context())
	if err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"registrations": regs,
		"count":         len(regs),
	})
}

// triggerReconcile runs a reconcile pass synchronously so the caller sees
// the result, unlike the Poke path which is fire-and-forget.
func (s *Server) triggerReconcile(c echo.Context) error {
	if err := s.registry.Reconcile(c.Request().Context()); err != nil {
		return s.jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "reconciled",
	})
}

// jsonError maps service errors to HTTP statuses.
func (s *Server) jsonError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, mapping.ErrBoardNotFound), errors.Is(err, mapping.ErrListNotOnBoard):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, store.ErrConstraint):
		return c.JSON(http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
}
