package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/coursework/internal/failure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	kind   error
	status int
	token  string
}

var errorMappings = []errorMapping{
	{kind: failure.ErrInvalidInput, status: http.StatusBadRequest, token: "invalid"},
	{kind: failure.ErrDuplicate, status: http.StatusConflict, token: "exists"},
	{kind: failure.ErrCaptchaFailed, status: http.StatusBadRequest, token: "captcha"},
	{kind: failure.ErrInvalidCredentials, status: http.StatusUnauthorized, token: "invalid"},
	{kind: failure.ErrUnauthorized, status: http.StatusUnauthorized, token: "unauthorized"},
	{kind: failure.ErrForbidden, status: http.StatusForbidden, token: "forbidden"},
	{kind: failure.ErrNotFound, status: http.StatusNotFound, token: "not_found"},
	{kind: failure.ErrNotEnrolled, status: http.StatusBadRequest, token: "not_in_project"},
}

// writeError renders err as {"error": token, "code": code}. Failures outside the taxonomy are
// logged and answered with 500.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	code := failure.CodeOf(err)
	for _, mapping := range errorMappings {
		if !errors.Is(err, mapping.kind) {
			continue
		}
		token := mapping.token
		if mapping.kind == failure.ErrNotFound && strings.HasSuffix(code, ".student_not_found") {
			token = "student_not_found"
		}
		c.JSON(mapping.status, gin.H{"error": token, "code": code})
		return
	}

	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("code", code),
		zap.Error(err))
	if code == "" {
		code = "internal"
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "code": code})
}
