// Package api is the HTTP ops surface: health, metrics, and
// authenticated snapshots of the live registries. The retail protocols
// themselves are TCP; nothing here mutates domain state.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lalith-99/shopnet/internal/auth"
	"github.com/lalith-99/shopnet/internal/chat"
	"github.com/lalith-99/shopnet/internal/domain"
	"github.com/lalith-99/shopnet/internal/employees"
	"github.com/lalith-99/shopnet/internal/inventory"
	"github.com/lalith-99/shopnet/internal/loyalty"
	"github.com/lalith-99/shopnet/internal/session"
)

type OpsHandler struct {
	sessions  *session.Registry
	ledger    *inventory.Ledger
	customers *loyalty.Store
	broker    *chat.Broker
	directory *employees.Directory

	adminUser     string
	adminPassword string
	jwtSecret     string

	logger *zap.Logger
}

func NewOpsHandler(
	sessions *session.Registry,
	ledger *inventory.Ledger,
	customers *loyalty.Store,
	broker *chat.Broker,
	directory *employees.Directory,
	adminUser, adminPassword, jwtSecret string,
	logger *zap.Logger,
) *OpsHandler {
	return &OpsHandler{
		sessions:      sessions,
		ledger:        ledger,
		customers:     customers,
		broker:        broker,
		directory:     directory,
		adminUser:     adminUser,
		adminPassword: adminPassword,
		jwtSecret:     jwtSecret,
		logger:        logger,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login handles POST /v1/auth/login for the ops API using the admin
// credentials from config.
func (h *OpsHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username != h.adminUser || req.Password != h.adminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(req.Username, string(domain.RoleAdmin), h.jwtSecret, 24*time.Hour)
	if err != nil {
		h.logger.Error("failed to issue ops token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token})
}

// Status handles GET /v1/status: a point-in-time snapshot of the
// shared registries.
func (h *OpsHandler) Status(c *gin.Context) {
	inventorySize := 0
	for _, b := range domain.Branches() {
		inventorySize += len(h.ledger.ListByBranch(b))
	}
	chatClients, pendingRequests, conversations := h.broker.Counts()

	c.JSON(http.StatusOK, gin.H{
		"live_sessions":        h.sessions.Count(),
		"customers":            len(h.customers.ListAll()),
		"products":             inventorySize,
		"chat_clients":         chatClients,
		"pending_requests":     pendingRequests,
		"active_conversations": conversations,
	})
}

// Sessions handles GET /v1/sessions: the usernames currently holding
// a live store session.
func (h *OpsHandler) Sessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usernames": h.sessions.Usernames()})
}

type employeeRequest struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required"`
	Role          string `json:"role" binding:"required"`
	Branch        string `json:"branch" binding:"required"`
	AccountNumber string `json:"account_number"`
	Phone         string `json:"phone"`
}

type employeeResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	Branch        string `json:"branch"`
	AccountNumber string `json:"account_number,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

func toEmployeeResponse(rec employees.Record) employeeResponse {
	return employeeResponse{
		ID:            rec.ID,
		Username:      rec.Username,
		Role:          string(rec.Role),
		Branch:        string(rec.Branch),
		AccountNumber: rec.AccountNumber,
		Phone:         rec.Phone,
	}
}

// CreateEmployee handles POST /v1/employees. The password travels in
// plaintext over the ops channel and is bcrypt-hashed by the directory.
func (h *OpsHandler) CreateEmployee(c *gin.Context) {
	var req employeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := domain.ParseEmployeeRole(strings.ToUpper(req.Role))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	branch, err := domain.ParseBranch(strings.ToUpper(req.Branch))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid branch"})
		return
	}

	rec, err := h.directory.Add(req.Username, req.Password, role, branch, req.AccountNumber, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUsernameExists):
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		case errors.Is(err, domain.ErrWeakPassword), errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("create employee failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create employee failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, toEmployeeResponse(rec))
}

// ListEmployees handles GET /v1/employees. Password hashes never leave
// the directory.
func (h *OpsHandler) ListEmployees(c *gin.Context) {
	recs := h.directory.ListAll()
	out := make([]employeeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toEmployeeResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"employees": out})
}

// DeleteEmployee handles DELETE /v1/employees/:id.
func (h *OpsHandler) DeleteEmployee(c *gin.Context) {
	if !h.directory.DeleteByID(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "employee not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
