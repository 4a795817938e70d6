package httpserver

import (
	"net/http"
)

type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeEmailExists        ErrorCode = "EMAIL_EXISTS"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeCredentialInvalid  ErrorCode = "CREDENTIAL_INVALID"
	ErrCodeTokenInvalid       ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
	ErrCodeSelfReference      ErrorCode = "SELF_REFERENCE"
	ErrCodeContactNotFound    ErrorCode = "CONTACT_NOT_FOUND"
	ErrCodeContactExists      ErrorCode = "CONTACT_EXISTS"
	ErrCodeContactState       ErrorCode = "CONTACT_INVALID_STATE"
	ErrCodeMessageNotFound    ErrorCode = "MESSAGE_NOT_FOUND"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeCallNotFound       ErrorCode = "CALL_NOT_FOUND"
	ErrCodeCallInvalidState   ErrorCode = "CALL_INVALID_STATE"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed   ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
)

var errorHTTPStatus = map[ErrorCode]int{
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeEmailExists:        http.StatusConflict,
	ErrCodeUserNotFound:       http.StatusNotFound,
	ErrCodeInvalidCredentials: http.StatusUnauthorized,
	ErrCodeCredentialInvalid:  http.StatusUnauthorized,
	ErrCodeTokenInvalid:       http.StatusUnauthorized,
	ErrCodeTokenExpired:       http.StatusUnauthorized,
	ErrCodeSelfReference:      http.StatusBadRequest,
	ErrCodeContactNotFound:    http.StatusNotFound,
	ErrCodeContactExists:      http.StatusConflict,
	ErrCodeContactState:       http.StatusConflict,
	ErrCodeMessageNotFound:    http.StatusNotFound,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeCallNotFound:       http.StatusNotFound,
	ErrCodeCallInvalidState:   http.StatusConflict,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	ErrCodeNotFound:           http.StatusNotFound,
}

func httpStatusForCode(code ErrorCode) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
