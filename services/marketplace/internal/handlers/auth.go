package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/course-marketplace/services/marketplace/internal/middlewares"
	"github.com/you/course-marketplace/services/marketplace/internal/service"
)

type AuthHandler struct {
	svc *service.AuthSvc
}

func NewAuthHandler(svc *service.AuthSvc) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var in struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name"`
		ImageURL string `json:"imageUrl"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	acc, tok, err := h.svc.Register(c.Request.Context(), service.RegisterInput{
		Email: in.Email, Password: in.Password, Name: in.Name, ImageURL: in.ImageURL, Role: in.Role,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "token": tok, "user": acc})
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var in struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	acc, tok, err := h.svc.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": tok, "user": acc})
}

// GET /user/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "user": middlewares.Account(c)})
}

// POST /educator/role
func (h *AuthHandler) BecomeEducator(c *gin.Context) {
	acc, err := h.svc.BecomeEducator(c.Request.Context(), middlewares.Account(c).ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "You can publish a course now", "user": acc})
}
