// Package auth resolves the caller's address and gates owner-only routes.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UnknownAddress is reported when no forwarding header carries an address.
const UnknownAddress = "unknown"

// Forwarding headers, consulted in this order.
var addressHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// ClientAddress returns the caller's address as seen through the fronting proxy.
// For X-Forwarded-For only the first hop is used.
func ClientAddress(r *http.Request) string {
	for _, header := range addressHeaders {
		value := r.Header.Get(header)
		if header == "X-Forwarded-For" {
			value, _, _ = strings.Cut(value, ",")
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return UnknownAddress
}

// IsOwner reports whether address is the allow-listed owner address.
// An empty owner address matches nothing.
func IsOwner(address, ownerIP string) bool {
	return ownerIP != "" && address == ownerIP
}

// OwnerOnlyMiddleware rejects every caller that is not the owner with 403.
func OwnerOnlyMiddleware(ownerIP string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsOwner(ClientAddress(c.Request), ownerIP) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}
