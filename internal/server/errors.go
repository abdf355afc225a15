package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
)

// respondError maps domain errors onto the local API. Disconnection is a
// prompt to sign in, restoration is a loading state, and platform errors
// keep their status and remediation link.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotConnected):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":  err.Error(),
			"action": "signIn",
		})
	case errors.Is(err, workspace.ErrRestoring):
		c.JSON(http.StatusAccepted, gin.H{"status": "loading"})
	default:
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			status := apiErr.Status
			if status < http.StatusBadRequest {
				status = http.StatusBadGateway
			}
			body := gin.H{"error": apiErr.Message, "code": apiErr.Code}
			if apiErr.RequestID != "" {
				body["requestId"] = apiErr.RequestID
			}
			if apiErr.LearnMoreURL != "" {
				body["learnMore"] = apiErr.LearnMoreURL
			}
			c.JSON(status, body)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
