// Package middleware provides HTTP middleware for the resource-lock service.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/resource-lock/internal/binding"
	"github.com/kneutral-org/resource-lock/internal/interceptor"
	"github.com/kneutral-org/resource-lock/internal/lock"
)

// LockErrorResponse represents the JSON response for requests whose
// resource lock could not be acquired.
type LockErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Resource   string `json:"resource,omitempty"`
	StatusCode int    `json:"statusCode"`
}

// Lock returns a middleware that runs the rest of the handler chain under
// the lock bound to unit. Only path parameters fill the binding's name
// template.
func Lock(ic *interceptor.Interceptor, unit string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		vars := RequestVars(c)

		res, err := ic.Run(c.Request.Context(), unit, vars, func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			if last := c.Errors.Last(); last != nil {
				return last.Err
			}
			return nil
		})

		var rejected *interceptor.RejectedError
		if err == nil || !errors.As(err, &rejected) {
			return
		}

		logRejectedRequest(logger, c, res, err)
		respondLockError(c, res.Resource, err)
	}
}

// RequestVars collects the request's path parameters. Query values are
// left out so that a client cannot pick the lock name of a placeholder the
// route does not define.
func RequestVars(c *gin.Context) binding.Vars {
	vars := make(binding.Vars, len(c.Params))
	for _, p := range c.Params {
		vars[p.Key] = p.Value
	}
	return vars
}

// StatusForLockError maps an acquisition failure to an HTTP status code.
func StatusForLockError(err error) int {
	switch {
	case errors.Is(err, interceptor.ErrResourceBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, lock.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, lock.ErrAcquisitionCanceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func logRejectedRequest(logger zerolog.Logger, c *gin.Context, res interceptor.Result, err error) {
	logger.Warn().
		Err(err).
		Str("clientIP", c.ClientIP()).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("unit", res.Unit).
		Str("resource", res.Resource).
		Msg("request rejected by resource lock")
}

func respondLockError(c *gin.Context, resource string, err error) {
	status := StatusForLockError(err)
	resp := LockErrorResponse{
		Resource:   resource,
		StatusCode: status,
	}
	switch status {
	case http.StatusTooManyRequests:
		resp.Error = "resourceLocked"
		resp.Message = "the resource is currently being processed, try again later"
	case http.StatusServiceUnavailable:
		resp.Error = "lockStoreUnavailable"
		resp.Message = "the lock store is unavailable"
	case http.StatusRequestTimeout:
		resp.Error = "lockAcquisitionCanceled"
		resp.Message = "the request ended before the resource lock was acquired"
	default:
		resp.Error = "lockFailed"
		resp.Message = "the resource lock could not be acquired"
	}
	c.AbortWithStatusJSON(status, resp)
}
