package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/middleware"
	"etf_dashboard/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPagination(page, limit int, total int64) Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

func respondPage(c *gin.Context, data any, p Pagination) {
	c.JSON(http.StatusOK, gin.H{"data": data, "pagination": p})
}

// respondError maps err to its status and the public error envelope.
// Server-side failures are logged with the request id.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log := logger.With("http")
		log.Error().Err(err).
			Str("request_id", c.GetString(middleware.ContextRequestID)).
			Str("path", c.Request.URL.Path).
			Msg("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error":   apperr.KindOf(err).String(),
		"message": apperr.PublicMessage(err),
	})
}

// bindJSON decodes the body and turns binding failures into validation errors.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperr.Validation("%s", bindingMessage(err)))
		return false
	}
	return true
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "ticker":
			return fe.Field() + " must be a valid ticker symbol"
		case "email":
			return fe.Field() + " must be a valid email"
		default:
			return fe.Field() + " failed " + fe.Tag() + " validation"
		}
	}
	return "invalid request body"
}

// queryInt reads an integer query parameter, falling back to def.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", key)
	}
	return v, nil
}

func paramID(c *gin.Context, key string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(key), 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.NotFound("%s %q not found", key, c.Param(key))
	}
	return uint(v), nil
}

// currentUser reads the id set by the JWT middleware.
func currentUser(c *gin.Context) (uint, bool) {
	id, err := middleware.UserIDFromContext(c)
	if err != nil {
		respondError(c, apperr.Unauthorized("authentication required"))
		return 0, false
	}
	return id, true
}

// symbolParam validates the :symbol path parameter.
func symbolParam(c *gin.Context) (string, bool) {
	sym := models.NormalizeSymbol(c.Param("symbol"))
	if !models.ValidTicker(sym) {
		respondError(c, apperr.Validation("invalid symbol %q", c.Param("symbol")))
		return "", false
	}
	return sym, true
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

var registerOnce sync.Once

// RegisterValidators adds the ticker binding tag. Lists use dive,ticker.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
			return models.ValidTicker(models.NormalizeSymbol(fl.Field().String()))
		})
	})
}
