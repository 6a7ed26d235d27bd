package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/boolearner/boolearner/pkg/engine"
)

// ErrCodeBadRequest marks request bodies or parameters that could not be parsed.
const ErrCodeBadRequest = "BAD_REQUEST"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// statusForCode maps engine error codes to HTTP statuses. Every graph rule
// violation is the client's to fix and answers 400.
func statusForCode(code string) int {
	switch code {
	case engine.ErrCodeValidation,
		engine.ErrCodeInvalidDependency,
		engine.ErrCodeUnknownDependency,
		engine.ErrCodeSelfDependency,
		engine.ErrCodeCircularDependency,
		engine.ErrCodeAmbiguousName,
		engine.ErrCodePolicyViolation,
		ErrCodeBadRequest:
		return http.StatusBadRequest
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (rt *Router) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rt.logger.WithError(err).Error("failed to encode response")
	}
}

// respondError writes err as an ErrorResponse. Non-engine errors are reported
// as internal errors without exposing their text.
func (rt *Router) respondError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Code:      engine.ErrCodeInternal,
		Message:   "internal server error",
		RequestID: chimiddleware.GetReqID(r.Context()),
	}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		if ee.Code != "" {
			resp.Code = ee.Code
		}
		resp.Message = ee.Message
		resp.Details = ee.Details
	}

	status := statusForCode(resp.Code)
	resp.Error = http.StatusText(status)

	if status >= http.StatusInternalServerError {
		rt.logger.WithError(err).WithRequestID(resp.RequestID).Error("request failed")
	}

	rt.respondJSON(w, status, resp)
}

func badRequest(message string, err error) *engine.EngineError {
	ee := engine.NewPermanentError(message, err).WithCode(ErrCodeBadRequest)
	if err != nil {
		ee = ee.WithDetail("reason", err.Error())
	}
	return ee
}

// validationFailed turns validator errors into a VALIDATION_ERROR with one
// message per offending field.
func validationFailed(err error) *engine.EngineError {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return engine.NewPermanentError("invalid request", err).WithCode(engine.ErrCodeValidation)
	}

	fields := make(map[string]string, len(fieldErrors))
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		msg := formatFieldError(fe)
		fields[strings.ToLower(fe.Field())] = msg
		messages = append(messages, msg)
	}

	return engine.NewPermanentError(strings.Join(messages, "; "), nil).
		WithCode(engine.ErrCodeValidation).
		WithDetail("fields", fields)
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
