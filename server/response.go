package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitwit/payterm/types"
)

// Envelope codes that have no terminal error counterpart.
const (
	CodeOK          = "OK"
	CodeRateLimited = "RATE_LIMITED"
)

// Response is the JSON envelope of every API response.
type Response struct {
	Code    string      `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success writes data with status 200.
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{Code: CodeOK, Message: "success", Data: data})
}

// Error writes err. Terminal errors keep their code and pick the status;
// anything else is an internal error.
func Error(c *gin.Context, err error) {
	var terr *types.TerminalError
	if !errors.As(err, &terr) {
		terr = &types.TerminalError{Code: types.ErrRPC, Message: err.Error()}
	}
	var data interface{} = gin.H{}
	if terr.Data != nil {
		data = terr.Data
	}
	c.AbortWithStatusJSON(statusFor(terr.Code), Response{Code: terr.Code, Message: terr.Message, Data: data})
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	Error(c, types.NewError(types.ErrInvalidRequest, format, args...))
}

// Action writes the result of a dispatcher action. Failed actions carry
// the result as data so callers still see the transaction hash.
func Action(c *gin.Context, result *types.ActionResult) {
	if result.Success {
		Success(c, result)
		return
	}
	code := result.ErrorCode
	if code == "" {
		code = types.ErrRPC
	}
	c.AbortWithStatusJSON(statusFor(code), Response{Code: code, Message: result.Error, Data: result})
}

func statusFor(code string) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrWalletNotConnected:
		return http.StatusUnauthorized
	case types.ErrNotOwner, types.ErrWalletRejected:
		return http.StatusForbidden
	case types.ErrUnsupportedNetwork:
		return http.StatusNotFound
	case types.ErrBusy:
		return http.StatusConflict
	case types.ErrContractRejected:
		return http.StatusUnprocessableEntity
	case types.ErrUnsupportedOperation:
		return http.StatusNotImplemented
	case types.ErrRPC, types.ErrConfirmationFailed:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
