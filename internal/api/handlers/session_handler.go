package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/services"
	"github.com/yoockh/hintline/internal/utils"
)

type SessionHandler struct {
	svc services.SessionService
}

func NewSessionHandler(svc services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type ListSessionsResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
}

func (h *SessionHandler) List(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.List", "limit must be an integer", err))
			return
		}
		limit = n
	}

	out, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListSessionsResponse{Sessions: out})
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("session_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
