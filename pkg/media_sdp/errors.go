// Package media_sdp описывает медиа сессию SIP вызова в терминах SDP:
// потоки, их фактические и потенциальные конфигурации (RFC 5939),
// группы BUNDLE, сравнение описаний и сериализацию через pion/sdp.
package media_sdp

import (
	"errors"
	"fmt"
	"strings"
)

// SDPErrorCode код ошибки разбора, построения или проверки описания
type SDPErrorCode int

const (
	ErrorCodeInvalidConfig SDPErrorCode = iota + 2000
	ErrorCodeSDPGeneration
	ErrorCodeSDPParsing
	ErrorCodeInvalidConfigurationIndex
	ErrorCodeInvalidCrypto
	ErrorCodeInvalidFingerprint
)

var errorCodeNames = map[SDPErrorCode]string{
	ErrorCodeInvalidConfig:             "INVALID_CONFIG",
	ErrorCodeSDPGeneration:             "SDP_GENERATION",
	ErrorCodeSDPParsing:                "SDP_PARSING",
	ErrorCodeInvalidConfigurationIndex: "INVALID_CONFIGURATION_INDEX",
	ErrorCodeInvalidCrypto:             "INVALID_CRYPTO",
	ErrorCodeInvalidFingerprint:        "INVALID_FINGERPRINT",
}

func (c SDPErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// SDPError ошибка с кодом; SessionID заполняется, когда известен o= сессии
type SDPError struct {
	Code      SDPErrorCode
	Message   string
	SessionID string
	Wrapped   error
}

// NewSDPError создает ошибку с кодом и сообщением
func NewSDPError(code SDPErrorCode, format string, args ...interface{}) *SDPError {
	return &SDPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapSDPError оборачивает причину err
func WrapSDPError(code SDPErrorCode, sessionID string, err error, format string, args ...interface{}) *SDPError {
	return &SDPError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		SessionID: sessionID,
		Wrapped:   err,
	}
}

func (e *SDPError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "media_sdp [%d %s]: %s", int(e.Code), e.Code, e.Message)
	if e.SessionID != "" {
		fmt.Fprintf(&sb, " (сессия %s)", e.SessionID)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&sb, ": %v", e.Wrapped)
	}
	return sb.String()
}

func (e *SDPError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду, что позволяет errors.Is(err, &SDPError{Code: ...})
func (e *SDPError) Is(target error) bool {
	t, ok := target.(*SDPError)
	return ok && t.Code == e.Code
}

// IsSDPError проверяет, что в цепочке err есть SDPError с кодом code
func IsSDPError(err error, code SDPErrorCode) bool {
	var sdpErr *SDPError
	for errors.As(err, &sdpErr) {
		if sdpErr.Code == code {
			return true
		}
		err = sdpErr.Wrapped
	}
	return false
}
