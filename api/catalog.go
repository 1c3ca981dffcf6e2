package api

import (
	"net/http"

	"github.com/flowctl/policyd/registry"
	"github.com/gin-gonic/gin"
)

// Catalogs are owned by collaborators (VLAN/WAN/DNS configuration) and are
// read-only here.

func (h *handler) getGroupList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: registry.GroupRegistry().GetAll(),
	})
}

func (h *handler) getEgressList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: registry.EgressRegistry().GetAll(),
	})
}

func (h *handler) getDNSPolicyList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: registry.DNSPolicyRegistry().GetAll(),
	})
}

func (h *handler) getMatcherList(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, Response{
		Data: registry.MatcherRegistry().GetAll(),
	})
}
