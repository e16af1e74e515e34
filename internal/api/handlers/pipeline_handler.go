package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/hintline/internal/history"
	"github.com/yoockh/hintline/internal/models"
	"github.com/yoockh/hintline/internal/pipeline"
	"github.com/yoockh/hintline/internal/utils"
)

type PipelineHandler struct {
	p Controller
}

func NewPipelineHandler(p Controller) *PipelineHandler {
	return &PipelineHandler{p: p}
}

func (h *PipelineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.p.Status())
}

func (h *PipelineHandler) Start(c *gin.Context) {
	if err := h.p.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.p.Status())
}

func (h *PipelineHandler) Stop(c *gin.Context) {
	if err := h.p.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.p.Status())
}

type AskResponse struct {
	Result pipeline.AskResult `json:"result"`
}

func (h *PipelineHandler) Ask(c *gin.Context) {
	res, err := h.p.AskNow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusAccepted
	if res != pipeline.AskStarted {
		status = http.StatusOK
	}
	c.JSON(status, AskResponse{Result: res})
}

func (h *PipelineHandler) Clear(c *gin.Context) {
	if err := h.p.ClearSession(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.p.Status())
}

type SetAutoRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *PipelineHandler) SetAuto(c *gin.Context) {
	var req SetAutoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "PipelineHandler.SetAuto", "invalid request body", err))
		return
	}
	if err := h.p.SetAutoHints(c.Request.Context(), *req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.p.Status())
}

type SetContextRequest struct {
	WindowSize *int `json:"window_size" binding:"required"`
	MaxChars   *int `json:"max_chars" binding:"required"`
}

func (h *PipelineHandler) SetContext(c *gin.Context) {
	var req SetContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "PipelineHandler.SetContext", "invalid request body", err))
		return
	}
	if err := h.p.SetContextParams(c.Request.Context(), *req.WindowSize, *req.MaxChars); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.p.Status())
}

type HintsResponse struct {
	Hints    []models.HintRecord `json:"hints"`
	Position history.Position    `json:"position"`
}

func (h *PipelineHandler) Hints(c *gin.Context) {
	recs, pos, err := h.p.Hints(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HintsResponse{Hints: recs, Position: pos})
}

func (h *PipelineHandler) Prev(c *gin.Context) {
	v, err := h.p.PrevHint(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *PipelineHandler) Next(c *gin.Context) {
	v, err := h.p.NextHint(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *PipelineHandler) Select(c *gin.Context) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "PipelineHandler.Select", "index must be an integer", err))
		return
	}
	v, err := h.p.SelectHint(c.Request.Context(), i)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
