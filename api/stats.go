package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *handler) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: map[string]any{
			"rules":   h.options.Stats.Snapshot(),
			"dropped": h.options.Stats.Dropped(),
		},
	})
}

func (h *handler) resetStats(ctx *gin.Context) {
	h.options.Stats.Reset("")

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
	})
}

func (h *handler) resetRuleStats(ctx *gin.Context) {
	h.options.Stats.Reset(ctx.Param("rule"))

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
	})
}

func (h *handler) getHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: h.options.Tracker.Current(),
	})
}
