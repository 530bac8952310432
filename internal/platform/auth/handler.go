package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// APIKeyHandler exposes key management over HTTP.
type APIKeyHandler struct {
	keys *APIKeyManager
}

// RegisterKeyRoutes mounts the key management endpoints, admin only.
func RegisterKeyRoutes(apiV1 *echo.Group, keys *APIKeyManager) {
	h := &APIKeyHandler{keys: keys}
	admin := apiV1.Group("", RequireRole("admin"))
	admin.POST("/apikeys", h.CreateKey)
	admin.GET("/apikeys", h.ListKeys)
	admin.DELETE("/apikeys/:id", h.RevokeKey)
}

// CreateKeyRequest is the request body for creating an API key.
type CreateKeyRequest struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at,omitempty"` // RFC3339
}

// CreateKeyResponse carries the record plus the raw key, returned exactly once.
type CreateKeyResponse struct {
	Key    *APIKey `json:"key"`
	RawKey string  `json:"raw_key"`
}

func (h *APIKeyHandler) CreateKey(c echo.Context) error {
	var req CreateKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.Role == "" {
		req.Role = "viewer"
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expires_at: "+err.Error())
		}
		expiresAt = &t
	}

	key, raw, err := h.keys.Generate(req.Name, req.Role, expiresAt)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, CreateKeyResponse{Key: key, RawKey: raw})
}

func (h *APIKeyHandler) ListKeys(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"keys": h.keys.List()})
}

func (h *APIKeyHandler) RevokeKey(c echo.Context) error {
	if err := h.keys.Revoke(c.Param("id")); err != nil {
		if err == ErrKeyNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "api key not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
