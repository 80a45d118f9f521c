package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/xraph/hotelledger"
)

func init() {
	// Report json field names in binding errors.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindStatus = map[hotelledger.ErrorKind]int{
	hotelledger.KindValidation:          http.StatusBadRequest,
	hotelledger.KindNotFound:            http.StatusNotFound,
	hotelledger.KindProviderAuth:        http.StatusUnauthorized,
	hotelledger.KindProviderRequest:     http.StatusBadRequest,
	hotelledger.KindProviderUnavailable: http.StatusBadGateway,
	hotelledger.KindInsufficientBalance: http.StatusPaymentRequired,
	hotelledger.KindConflict:            http.StatusConflict,
	hotelledger.KindNoEntitlement:       http.StatusForbidden,
}

// statusFor maps an error onto its HTTP status.
func statusFor(err error) int {
	if status, ok := kindStatus[hotelledger.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	kind := hotelledger.KindOf(err)
	status := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
		msg = "internal error"
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind.String(), Message: msg})
}

// bindJSON decodes and validates the request body, writing a 400 on failure.
func (h *Handler) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.writeError(c, bindError(err))
		return false
	}
	return true
}

// bindError turns gin/validator binding failures into a ValidationError
// naming the first offending field.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			return hotelledger.Required(field)
		default:
			return hotelledger.ValidationError{Field: field, Message: fmt.Sprintf("failed %q validation", fe.Tag())}
		}
	}
	return hotelledger.ValidationError{Field: "body", Message: err.Error()}
}
