package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/http/middleware"
	"uniadmit/internal/storage"
)

const (
	maxJSONBytes      = 1 << 20
	multipartOverhead = storage.MiB
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func errUnauthorized() error {
	return common.NewError(common.CodeUnauthorized, "not authenticated", nil)
}

func actorFrom(r *http.Request) (user.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return user.Actor{}, errUnauthorized()
	}
	return actor, nil
}

func pathID(r *http.Request, name string) (common.UUID, error) {
	id, err := common.ParseUUID(mux.Vars(r)[name])
	if err != nil {
		return "", common.NewValidationError("invalid id", map[string]string{name: "must be a valid uuid"})
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return common.NewError(common.CodePayloadTooLarge, "request body is too large", err)
		}
		if errors.Is(err, io.EOF) {
			if optional {
				return validateStruct(dst)
			}
			return common.NewError(common.CodeValidation, "request body is required", err)
		}
		return common.NewError(common.CodeValidation, "invalid json body", err)
	}
	return validateStruct(dst)
}

func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return common.NewError(common.CodeValidation, "invalid request", err)
	}
	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		fields[fe.Field()] = validationMessage(fe)
	}
	return common.NewValidationError("invalid request", fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid uuid"
	default:
		return "is invalid"
	}
}

// readUpload parses a multipart body and returns its "file" part. The body is
// clamped just above the limit for kind; the exact limit is enforced by storage.
func readUpload(w http.ResponseWriter, r *http.Request, kind storage.Kind) (storage.File, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, kind.MaxSize()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return storage.File{}, nil, common.NewError(common.CodePayloadTooLarge,
				fmt.Sprintf("file exceeds the %d MB limit", kind.MaxSize()/storage.MiB), err)
		}
		return storage.File{}, nil, common.NewValidationError("invalid upload", map[string]string{"file": "multipart form with a file is required"})
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		return storage.File{}, nil, common.NewValidationError("invalid upload", map[string]string{"file": "file is required"})
	}
	cleanup := func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}
	return storage.File{Name: header.Filename, Size: header.Size, Body: file}, cleanup, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, common.NewValidationError("invalid query", map[string]string{name: "must be a non-negative integer"})
	}
	return value, nil
}
