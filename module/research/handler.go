package research

import (
	"net/http"

	mid "ResearchChat/middleware"
	midsec "ResearchChat/middleware/security"
	"ResearchChat/module/research/model"
	"ResearchChat/module/research/store"
	"ResearchChat/tools/errs"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	jobs *store.JobStore
}

func NewHandler(jobs *store.JobStore) *Handler { return &Handler{jobs: jobs} }

func (h *Handler) Register(r gin.IRoutes) {
	mid.GET(r, "/api/research/:turnId", h.Status, mid.RouteOpt{IsAuth: true})
	mid.DELETE(r, "/api/research/:turnId", h.Ack, mid.RouteOpt{IsAuth: true})
}

// owned 他人的 job 与不存在同样返回 404
func (h *Handler) owned(c *gin.Context) (*model.Job, bool) {
	turnID := c.Param("turnId")
	j, ok := h.jobs.Get(turnID)
	if !ok || j.UserID != midsec.UserID(c) {
		mid.Fail(c, errs.ErrRecordNotFound.WrapMsg("research job", "turnID", turnID))
		return nil, false
	}
	return j, true
}

func (h *Handler) Status(c *gin.Context) {
	j, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, j)
}

// Ack deletes a finished or abandoned job on behalf of its owner.
func (h *Handler) Ack(c *gin.Context) {
	j, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": h.jobs.Ack(j.TurnID)})
}
