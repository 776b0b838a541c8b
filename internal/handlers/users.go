package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/warasat/Chat-Application/internal/models"
)

type LoginRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=100"`
	PhoneNumber string `json:"phone_number"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login signs a user in by username, creating the account on first use.
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	err := h.db.Where("username = ?", req.Username).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{Username: req.Username, PhoneNumber: req.PhoneNumber}
		if err := h.db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
			return
		}
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	h.log.Info("user logged in", "user_id", user.ID, "username", user.Username)
	c.JSON(http.StatusOK, LoginResponse{Token: token, User: user})
}

type userView struct {
	models.User
	IsOnline bool `json:"is_online"`
}

// ListUsers returns every account with its live-connection status.
func (h *Handlers) ListUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.Order("username ASC").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	views := lo.Map(users, func(u models.User, _ int) userView {
		return userView{User: u, IsOnline: h.registry.Online(u.ID)}
	})
	c.JSON(http.StatusOK, gin.H{"users": views})
}
