package middleware

import (
	"net/http"

	"ResearchChat/logger"
	"ResearchChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Fail renders err as {code,msg}. Detail stays in the log.
func Fail(c *gin.Context, err error) {
	ce, ok := errs.AsCode(err)
	if !ok {
		logger.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
		ce = errs.ErrServerInternal
	} else if ce.Detail != "" {
		logger.Debug("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(httpStatus(ce.Code), gin.H{"code": ce.Code, "msg": ce.Msg})
}

func httpStatus(code int) int {
	switch code {
	case errs.ArgsError:
		return http.StatusBadRequest
	case errs.AuthFailedError:
		return http.StatusUnauthorized
	case errs.RecordNotFoundError:
		return http.StatusNotFound
	case errs.RateLimitedError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
