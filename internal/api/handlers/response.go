package handlers

import (
	"context"
	"net/http"

	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
)

// ClaimsKey is the gin context key holding verified token claims
const ClaimsKey = "claims"

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:    http.StatusBadRequest,
	services.KindUnauthorized:  http.StatusUnauthorized,
	services.KindForbidden:     http.StatusForbidden,
	services.KindNotFound:      http.StatusNotFound,
	services.KindConfiguration: http.StatusInternalServerError,
	services.KindUnavailable:   http.StatusServiceUnavailable,
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	if domainErr, ok := services.AsError(err); ok {
		if status, found := kindStatus[domainErr.Kind]; found {
			return status
		}
	}
	return http.StatusInternalServerError
}

// WriteError writes err as {"message": ...}. Errors without a domain kind
// are logged and reported as a generic server error.
func WriteError(c *gin.Context, tracer tracing.Tracer, err error) {
	domainErr, ok := services.AsError(err)
	if !ok {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		if tracer != nil {
			tracer.RecordError(nrgin.Transaction(c), err)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	c.AbortWithStatusJSON(StatusFor(err), gin.H{"message": domainErr.Message})
}

func writeMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// requestContext carries the request's New Relic transaction to the services
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if txn := nrgin.Transaction(c); txn != nil {
		return newrelic.NewContext(ctx, txn)
	}
	return ctx
}

// bindJSON decodes the body into req, answering 400 with message on failure
func bindJSON(c *gin.Context, req interface{}, message string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("Invalid request body")
		writeMessage(c, http.StatusBadRequest, message)
		return false
	}
	return true
}
