package api

import (
	"net/http"

	"github.com/flowctl/policyd/store"
	"github.com/gin-gonic/gin"
)

func (h *handler) exportRules(ctx *gin.Context) {
	format := ctx.Query("format")
	switch format {
	case "json":
		ctx.Header("Content-Type", "application/json")
	default:
		format = "yaml"
		ctx.Header("Content-Type", "text/x-yaml")
	}

	if err := h.options.Store.Snapshot().Export(ctx.Writer, format); err != nil {
		writeError(ctx, NewError(http.StatusInternalServerError, ErrCodeFailed, err.Error()))
	}
}

func (h *handler) importRules(ctx *gin.Context) {
	rs, err := store.ReadRuleSet(ctx.Request.Body)
	if err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	snap, verrs := h.options.Store.Commit(rs.Rules)
	if snap == nil {
		ctx.JSON(http.StatusBadRequest, Response{
			Code: ErrCodeInvalid,
			Msg:  "validation failed",
			Data: verrs,
		})
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
		Data: map[string]any{
			"version": snap.Version(),
			"rules":   len(rs.Rules),
		},
	})
}
