package handler

import (
	"fmt"
	"net/http"

	"github.com/amoylab/roomhub/internal/common/cnst"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON body of every failed REST call
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	cnst.CodeInvalidArgument:    http.StatusBadRequest,
	cnst.CodeInvalidMessage:     http.StatusBadRequest,
	cnst.CodeRoomNotFound:       http.StatusNotFound,
	cnst.CodePermissionDenied:   http.StatusForbidden,
	cnst.CodeHistoryUnavailable: http.StatusServiceUnavailable,
}

// respondError writes err with the HTTP status matching its code
func respondError(c *gin.Context, err error) {
	code := cnst.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Code: code, Message: msg})
}

func badRequest(c *gin.Context, reason string) {
	respondError(c, fmt.Errorf("%w: %s", cnst.ErrInvalidArgument, reason))
}
