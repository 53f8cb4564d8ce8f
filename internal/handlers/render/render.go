package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/walletapi/internal/apperrors"
)

// Error codes returned in response body
const (
	CodeValidationFailed    = "validation_failed"
	CodeDecodingFailed      = "decoding_failed"
	CodeUnauthorized        = "unauthorized"
	CodeInvalidSignature    = "invalid_signature"
	CodeInvalidAmount       = "invalid_amount"
	CodeUnsupportedProvider = "unsupported_provider"
	CodeInvalidSource       = "invalid_source"
	CodeInvalidLimit        = "invalid_limit"
	CodeNotEnoughGems       = "not_enough_gems"
	CodeInsufficientBalance = "insufficient_balance"
	CodeTopupNotFound       = "topup_not_found"
	CodeNotFound            = "not_found"
	CodeProviderRefConflict = "provider_ref_conflict"
	CodeTopupFinalized      = "topup_finalized"
	CodeBalanceLimit        = "balance_limit_exceeded"
	CodeConflict            = "conflict"
	CodeStorageUnavailable  = "storage_unavailable"
	CodeInternal            = "internal_error"
)

var validate = validator.New()

func init() {
	// Return on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

type Struct any

type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func JSON(w http.ResponseWriter, data any) {
	JSONWithStatus(w, data, http.StatusOK)
}

// Render error with code and message
func Error(w http.ResponseWriter, code string, message string, status int) {
	JSONWithStatus(w, ErrorResponse{ErrorBody{Code: code, Message: message}}, status)
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	var message string

	// Try to provide more specific error message based on error type
	switch err := err.(type) {
	case *json.UnmarshalTypeError:
		message = fmt.Sprintf("Invalid data type for field '%s'", err.Field)
	default:
		message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	Error(w, CodeDecodingFailed, message, http.StatusBadRequest)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	body := ErrorBody{
		Code:    CodeValidationFailed,
		Message: "Request validation failed",
		Fields:  make(map[string]string, len(errs)),
	}

	// Create user-friendly error messages based on validation tag
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required", "required_if":
			message = "This field is required"
		case "gt":
			message = fmt.Sprintf("Value must be greater than %s", fieldError.Param())
		case "oneof":
			message = fmt.Sprintf("Value must be one of: %s", fieldError.Param())
		default:
			message = "Invalid value"
		}

		body.Fields[fieldError.Field()] = message
	}

	JSONWithStatus(w, ErrorResponse{body}, http.StatusBadRequest)
}

// ServiceError maps service error to code and status and renders it
func ServiceError(w http.ResponseWriter, err error) {
	code, status := ErrorCode(err)
	Error(w, code, messages[code], status)
}

var messages = map[string]string{
	CodeInvalidAmount:       "Amount is out of allowed range",
	CodeUnsupportedProvider: "Provider is not supported",
	CodeInvalidSource:       "Transaction source is not supported",
	CodeInvalidLimit:        "Limit must be a positive integer",
	CodeNotEnoughGems:       "Not enough gems to convert",
	CodeValidationFailed:    "Request validation failed",
	CodeInsufficientBalance: "Insufficient balance",
	CodeTopupNotFound:       "Topup not found",
	CodeNotFound:            "Not found",
	CodeProviderRefConflict: "Provider reference already used by another topup",
	CodeTopupFinalized:      "Topup already finalized",
	CodeBalanceLimit:        "Wallet balance limit exceeded",
	CodeConflict:            "Conflict",
	CodeStorageUnavailable:  "Storage temporarily unavailable, retry later",
	CodeInternal:            "Internal server error",
}

// ErrorCode maps service error to response code and HTTP status
func ErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidAmount):
		return CodeInvalidAmount, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnsupportedProvider):
		return CodeUnsupportedProvider, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidSource):
		return CodeInvalidSource, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidLimit):
		return CodeInvalidLimit, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotEnoughGems):
		return CodeNotEnoughGems, http.StatusBadRequest
	case errors.Is(err, apperrors.ErrValidation):
		return CodeValidationFailed, http.StatusBadRequest

	case errors.Is(err, apperrors.ErrBalanceInsufficient):
		return CodeInsufficientBalance, http.StatusPaymentRequired

	case errors.Is(err, apperrors.ErrTopupNotFound):
		return CodeTopupNotFound, http.StatusNotFound
	case errors.Is(err, apperrors.ErrNotFound):
		return CodeNotFound, http.StatusNotFound

	case errors.Is(err, apperrors.ErrProviderRefConflict):
		return CodeProviderRefConflict, http.StatusConflict
	case errors.Is(err, apperrors.ErrTopupFinalized):
		return CodeTopupFinalized, http.StatusConflict
	case errors.Is(err, apperrors.ErrBalanceLimit):
		return CodeBalanceLimit, http.StatusConflict
	case errors.Is(err, apperrors.ErrConflict):
		return CodeConflict, http.StatusConflict

	case errors.Is(err, apperrors.ErrStorageTx):
		return CodeStorageUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		DecodeError(w, err)
		return value, err
	}

	return value, Validate(w, value)
}

// Validate struct and write validation errors if any
func Validate[T Struct](w http.ResponseWriter, value T) error {
	err := validate.Struct(value)
	if err != nil {
		// pretty sure cast will be ok cause expecting T is valid struct
		errs := err.(validator.ValidationErrors)
		ValidationErrors(w, errs)
		return err
	}
	return nil
}

// JSONWithStatus sends data as json and enforces status code
func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
