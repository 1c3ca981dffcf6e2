package api

import (
	"net/http"

	"github.com/flowctl/policyd/policy"
	"github.com/gin-gonic/gin"
)

// draft sessions are scoped by the X-Draft-Session header (or ?session=);
// the empty session is shared, which suits a single operator.
func draftSession(ctx *gin.Context) string {
	if s := ctx.GetHeader("X-Draft-Session"); s != "" {
		return s
	}
	return ctx.Query("session")
}

type stageDraftRequest struct {
	Action policy.DraftAction  `json:"action"`
	RuleID string              `json:"ruleID,omitempty"`
	Rule   *policy.TrafficRule `json:"rule,omitempty"`
}

func (h *handler) getDraftList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: h.options.Controller.Changes(draftSession(ctx)),
	})
}

func (h *handler) stageDraft(ctx *gin.Context) {
	var req stageDraftRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	id, err := h.options.Controller.Stage(draftSession(ctx), req.Action, req.RuleID, req.Rule)
	if err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
		Data: map[string]any{
			"draft": id,
		},
	})
}

func (h *handler) discardDraft(ctx *gin.Context) {
	if err := h.options.Controller.Discard(draftSession(ctx), ctx.Param("draft")); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeNotFound, err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
	})
}

func (h *handler) discardDrafts(ctx *gin.Context) {
	h.options.Controller.Discard(draftSession(ctx), "")

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
	})
}

func (h *handler) applyDrafts(ctx *gin.Context) {
	snap, verrs, err := h.options.Controller.Apply(ctx, draftSession(ctx))
	if err != nil {
		if err == policy.ErrApplyInProgress {
			writeError(ctx, NewError(http.StatusConflict, ErrCodeBusy, err.Error()))
			return
		}
		writeError(ctx, NewError(http.StatusInternalServerError, ErrCodeFailed, err.Error()))
		return
	}
	if snap == nil {
		// drafts are retained; the caller corrects and retries
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
			"version":  snap.Version(),
			"warnings": verrs,
		},
	})
}
