package handlers

import (
	"net/http"

	"disclosure-cache-api/internal/models"

	"github.com/gin-gonic/gin"
)

type UserResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// GetAllUsers returns every operator account (admin only)
// GET /api/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.WithContext(c.Request.Context()).Order("username").Find(&users).Error; err != nil {
		internalError(c, "Failed to fetch users", err)
		return
	}

	// Map to safe response payload
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{
			ID:       u.ID,
			Username: u.Username,
			Role:     u.Role,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"users": resp,
		"count": len(resp),
	})
}
