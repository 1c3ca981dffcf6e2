package api

import (
	"bytes"
	"fmt"
	"net/http"
	"os"

	"github.com/flowctl/policyd/config"
	"github.com/gin-gonic/gin"
)

type getConfigRequest struct {
	// output format, one of yaml|json, default is json.
	Format string `form:"format" json:"format"`
}

func getConfig(ctx *gin.Context) {
	var req getConfigRequest
	ctx.ShouldBindQuery(&req)

	switch req.Format {
	case "yaml":
	default:
		req.Format = "json"
	}

	buf := &bytes.Buffer{}
	config.Global().Write(buf, req.Format)

	contentType := "application/json"
	if req.Format == "yaml" {
		contentType = "text/x-yaml"
	}

	ctx.Data(http.StatusOK, contentType, buf.Bytes())
}

type saveConfigRequest struct {
	// output format, one of yaml|json, default is yaml.
	Format string `form:"format" json:"format"`
	// file path, default is policyd.yaml|policyd.json in current working directory.
	Path string `form:"path" json:"path"`
}

func saveConfig(ctx *gin.Context) {
	var req saveConfigRequest
	ctx.ShouldBindQuery(&req)

	file := "policyd.yaml"
	switch req.Format {
	case "json":
		file = "policyd.json"
	default:
		req.Format = "yaml"
	}

	if req.Path != "" {
		file = req.Path
	}

	f, err := os.Create(file)
	if err != nil {
		writeError(ctx, &Error{
			statusCode: http.StatusInternalServerError,
			Code:       ErrCodeSaveFailed,
			Msg:        fmt.Sprintf("create file: %s", err.Error()),
		})
		return
	}
	defer f.Close()

	if err := config.Global().Write(f, req.Format); err != nil {
		writeError(ctx, &Error{
			statusCode: http.StatusInternalServerError,
			Code:       ErrCodeSaveFailed,
			Msg:        fmt.Sprintf("save config: %s", err.Error()),
		})
		return
	}

	ctx.JSON(http.StatusOK, Response{
		Msg: "OK",
	})
}
