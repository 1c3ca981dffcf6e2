package api

import (
	"net/http"

	"github.com/flowctl/policyd/policy"
	"github.com/gin-gonic/gin"
)

func (h *handler) resolveFlow(ctx *gin.Context) {
	var flow policy.Flow
	if err := ctx.ShouldBindJSON(&flow); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	res, err := h.options.Resolver.Resolve(&flow, h.options.Store.Snapshot(), h.options.Tracker)
	if err != nil {
		if err == policy.ErrNoHealthyEgress {
			writeError(ctx, NewError(http.StatusServiceUnavailable, ErrCodeFailed, err.Error()))
			return
		}
		writeError(ctx, NewError(http.StatusInternalServerError, ErrCodeFailed, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Data: res,
	})
}
