package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entrance/internal/observability/logger"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
	"go.uber.org/zap"
)

type SignupRequest struct {
	EmailAddress string `json:"emailAddress"`
	Password     string `json:"password"`
	Username     string `json:"username"`
}

type SignupResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (s *Server) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	prior, _ := s.sessions.ReadToken(c)
	result, err := s.signupsvc.Signup(c.Request.Context(), signupdomain.Request{
		EmailAddress:      req.EmailAddress,
		Password:          req.Password,
		Username:          req.Username,
		IPAddress:         c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		PriorSessionToken: prior,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Session != nil && result.Session.RawToken != "" {
		s.sessions.Set(c, result.Session.RawToken, result.Session.ExpiresAt)
	}

	resp := SignupResponse{}
	if result.User != nil {
		resp.UserID = result.User.ID.String()
		resp.Username = result.User.Username
		logger.WithUser(logger.FromContext(c.Request.Context()), resp.UserID).
			Debug("signup response written", zap.Bool("session_bound", result.Session != nil))
	}
	c.JSON(http.StatusCreated, resp)
}
