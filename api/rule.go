package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/flowctl/policyd/draft"
	"github.com/flowctl/policyd/policy"
	"github.com/gin-gonic/gin"
)

// Rule CRUD is a convenience wrapper over the draft controller: each call
// stages a single change in its own session and applies it immediately, so
// the one-writer/validate-then-swap path is never bypassed.

func (h *handler) getRuleList(ctx *gin.Context) {
	snap := h.options.Store.Snapshot()

	ctx.JSON(http.StatusOK, Response{
		Data: map[string]any{
			"version": snap.Version(),
			"rules":   snap.Rules(),
		},
	})
}

func (h *handler) getRule(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("rule"))

	rule := h.options.Store.Snapshot().Rule(id)
	if rule == nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeNotFound, fmt.Sprintf("rule %s not found", id)))
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Data: rule,
	})
}

func (h *handler) createRule(ctx *gin.Context) {
	var rule policy.TrafficRule
	if err := ctx.ShouldBindJSON(&rule); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	if rule.ID != "" && h.options.Store.Snapshot().Rule(rule.ID) != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeDup, fmt.Sprintf("rule %s already exists", rule.ID)))
		return
	}

	h.commitOne(ctx, policy.DraftCreate, "", &rule)
}

func (h *handler) updateRule(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("rule"))

	var rule policy.TrafficRule
	if err := ctx.ShouldBindJSON(&rule); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	if h.options.Store.Snapshot().Rule(id) == nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeNotFound, fmt.Sprintf("rule %s not found", id)))
		return
	}

	h.commitOne(ctx, policy.DraftUpdate, id, &rule)
}

func (h *handler) deleteRule(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("rule"))

	if h.options.Store.Snapshot().Rule(id) == nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeNotFound, fmt.Sprintf("rule %s not found", id)))
		return
	}

	h.commitOne(ctx, policy.DraftDelete, id, nil)
}

func (h *handler) commitOne(ctx *gin.Context, action policy.DraftAction, ruleID string, rule *policy.TrafficRule) {
	c := h.options.Controller

	// a throwaway per-request session; concurrent requests must not share
	// one, the loser's cleanup would discard the winner's staged change
	session := draft.NewSessionID()
	if _, err := c.Stage(session, action, ruleID, rule); err != nil {
		writeError(ctx, NewError(http.StatusBadRequest, ErrCodeInvalid, err.Error()))
		return
	}

	snap, verrs, err := c.Apply(ctx, session)
	if err != nil {
		c.Discard(session, "")
		if err == policy.ErrApplyInProgress {
			writeError(ctx, NewError(http.StatusConflict, ErrCodeBusy, err.Error()))
			return
		}
		writeError(ctx, NewError(http.StatusInternalServerError, ErrCodeFailed, err.Error()))
		return
	}
	if snap == nil {
		c.Discard(session, "")
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
		},
	})
}
