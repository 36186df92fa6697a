package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const ownerIP = "190.82.118.145"

func TestClientAddress(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"no headers", nil, UnknownAddress},
		{"forwarded-for single", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"forwarded-for first hop", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1, 10.0.0.2"}, "203.0.113.7"},
		{"real-ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"connecting-ip", map[string]string{"CF-Connecting-IP": "192.0.2.33"}, "192.0.2.33"},
		{
			"forwarded-for wins",
			map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4", "CF-Connecting-IP": "192.0.2.33"},
			"203.0.113.7",
		},
		{
			"real-ip before connecting-ip",
			map[string]string{"X-Real-IP": "198.51.100.4", "CF-Connecting-IP": "192.0.2.33"},
			"198.51.100.4",
		},
		{"blank forwarded-for falls through", map[string]string{"X-Forwarded-For": " ", "X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.9.9.9:4242"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientAddress(req))
		})
	}
}

func TestIsOwner(t *testing.T) {
	assert.True(t, IsOwner(ownerIP, ownerIP))
	assert.False(t, IsOwner("190.82.118.146", ownerIP))
	assert.False(t, IsOwner(UnknownAddress, ownerIP))
	assert.False(t, IsOwner("", ""))
	assert.False(t, IsOwner(UnknownAddress, ""))
}

func TestOwnerOnlyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(OwnerOnlyMiddleware(ownerIP))
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// No forwarding headers
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, rr.Body.String())

	// Someone else
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Owner
	req.Header.Set("X-Forwarded-For", ownerIP+", 10.0.0.1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
