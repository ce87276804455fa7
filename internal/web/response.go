package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// APIResponse wraps every JSON body
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []APIError  `json:"errors,omitempty"`
}

// APIError describes one request problem
type APIError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

var validate = validator.New()

func dataResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func errorResponse(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Errors:  []APIError{{Code: code, Message: msg}},
	})
}

// bindQuery applies struct defaults, binds query parameters over them and
// validates. An explicit zero in the query is kept and validated.
func bindQuery(c echo.Context, req interface{}) []APIError {
	if err := defaults.Set(req); err != nil {
		return []APIError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
	}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return []APIError{{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}}
		}
		return []APIError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []APIError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
		}
		out := make([]APIError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, APIError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
			})
		}
		return out
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func badRequest(c echo.Context, errs []APIError) error {
	return c.JSON(http.StatusBadRequest, APIResponse{
		Status:  http.StatusBadRequest,
		Message: http.StatusText(http.StatusBadRequest),
		Errors:  errs,
	})
}
