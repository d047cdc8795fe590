package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"equiprent-backend/internal/domain"
	"equiprent-backend/internal/logger"
)

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	if message == "" {
		message = "Success"
	}
	writeJSON(w, status, APIResponse{Status: "success", Message: message, Data: data})
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindUser:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := APIResponse{Status: "error", Message: err.Error()}

	var re *domain.RentalError
	if errors.As(err, &re) {
		body.Code = re.Code
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()), "error", err)
		body.Message = "Internal server error"
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, APIResponse{Status: "error", Message: message, Code: "BAD_REQUEST"})
}

var validate = validator.New()

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and returns false when the request is unusable.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeBadRequest(w, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fe.Field()+" must be one of: "+fe.Param())
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+" validation")
		}
	}
	return strings.Join(msgs, "; ")
}

// pathID parses a numeric route variable.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int32, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id <= 0 {
		writeBadRequest(w, "Invalid "+name)
		return 0, false
	}
	return int32(id), true
}

func queryInt32(r *http.Request, name string) (*int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil, err
	}
	id := int32(v)
	return &id, nil
}
