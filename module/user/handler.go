package user

import (
	"net/http"
	"time"

	mid "ResearchChat/middleware"
	midsec "ResearchChat/middleware/security"
	"ResearchChat/module/user/model"
	"ResearchChat/module/user/service"
	"ResearchChat/tools/errs"

	"github.com/gin-gonic/gin"
)

type credentialsReq struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,max=256"`
}

type loginReq struct {
	credentialsReq
	Force bool `json:"force"`
}

type Handler struct {
	sessions *service.SessionStore
}

func NewHandler(sessions *service.SessionStore) *Handler {
	return &Handler{sessions: sessions}
}

// Register mounts the /api/auth routes.
func (h *Handler) Register(r gin.IRoutes) {
	mid.POST(r, "/api/auth/check", h.Check, mid.RouteOpt{})
	mid.POST(r, "/api/auth/login", h.Login, mid.RouteOpt{})
	mid.POST(r, "/api/auth/logout", h.Logout, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/auth/logout-all", h.LogoutAll, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/auth/verify", h.Verify, mid.RouteOpt{IsAuth: true})
}

func (h *Handler) Check(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	res, err := h.sessions.CheckCredentials(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		mid.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":              res.User.Public(),
		"existing_sessions": res.ExistingSessions,
	})
}

// Login without force stops at a confirmation step when the user already
// has a live session; with force it takes the session over.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		mid.Fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	ctx := c.Request.Context()

	if !req.Force {
		res, err := h.sessions.CheckCredentials(ctx, req.Email, req.Password)
		if err != nil {
			mid.Fail(c, err)
			return
		}
		if len(res.ExistingSessions) > 0 {
			c.JSON(http.StatusOK, gin.H{
				"requires_confirmation": true,
				"user":                  res.User.Public(),
				"existing_sessions":     res.ExistingSessions,
			})
			return
		}
	}

	res, err := h.sessions.AuthenticateUser(ctx, req.Email, req.Password, model.ClientMetadata{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	})
	if err != nil {
		mid.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      res.Token,
		"session_id": res.SessionID,
		"user":       res.User.Public(),
		"expires_at": res.ExpireAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Logout(c *gin.Context) {
	ok := h.sessions.Logout(midsec.SessionID(c), false)
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	ids := h.sessions.InvalidateUserSessions(midsec.UserID(c), "", model.ReasonLogoutAll)
	c.JSON(http.StatusOK, gin.H{"invalidated": ids})
}

func (h *Handler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"user_id":    midsec.UserID(c),
		"session_id": midsec.SessionID(c),
	})
}
