package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/api/middleware"
	"github.com/ayo6706/marketplace-ledger/internal/api/problem"
	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var (
	validate      = newValidator()
	errNoDatabase = errors.New("database not configured")
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// An empty body decodes as the zero value.
// It writes the 400 itself and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin, nil
}

// canAccessOrganization reports whether the caller may read or act on orgID.
// Admins see everything; sellers only the organization in their token.
func canAccessOrganization(r *http.Request, orgID uuid.UUID) bool {
	if middleware.UserRoleFromContext(r.Context()) == middleware.RoleAdmin {
		return true
	}
	tokenOrg, err := uuid.Parse(middleware.OrganizationIDFromContext(r.Context()))
	return err == nil && tokenOrg == orgID
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return parsed, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, true
	}
	id, err := uuid.Parse(v)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, fmt.Sprintf("%s must be a valid UUID", name))
		return nil, false
	}
	return &id, true
}

func queryString(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// mapDomainError translates the typed ledger errors into a problem response.
func mapDomainError(err error) (status int, problemType string, ok bool) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "request/validation", true
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "resource/not-found", true
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "balance/insufficient", true
	case errors.Is(err, domain.ErrNegativeBalanceNotAllowed):
		return http.StatusUnprocessableEntity, "balance/negative-not-allowed", true
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "state/invalid-transition", true
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "state/concurrency-conflict", true
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusConflict, "balance/currency-mismatch", true
	default:
		return 0, "", false
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

// respondServiceError writes the problem for err. Unmapped errors are logged
// and hidden behind a generic 500 with failureSlug.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, failureSlug, failureMsg string) {
	if status, slug, ok := mapDomainError(err); ok {
		RespondError(w, r, status, slug, err.Error())
		return
	}
	if status, slug, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, slug, msg)
		return
	}
	zap.L().Error(failureMsg, zap.Error(err), zap.String("path", r.URL.Path))
	RespondError(w, r, http.StatusInternalServerError, failureSlug, failureMsg)
}
