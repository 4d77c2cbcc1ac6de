package ginx

import (
	"errors"
	"net/http"

	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/gin-gonic/gin"
)

// renderResponse 渲染 JSON 响应
func renderResponse(ctx *gin.Context, response any) {
	if response == nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	// 基本类型特殊处理
	switch v := response.(type) {
	case string:
		ctx.String(http.StatusOK, v)
		return
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, bool:
		ctx.JSON(http.StatusOK, gin.H{"value": v})
		return
	}

	ctx.JSON(http.StatusOK, response)
}

// renderError 渲染错误响应
// 如果 err 链中包含 *apierror.Error，使用其错误码和 HTTP 状态码
// 否则使用默认的错误格式
func renderError(ctx *gin.Context, statusCode int, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		// 使用错误对象中定义的 HTTP 状态码
		if apiErr.HTTPStatus > 0 {
			statusCode = apiErr.HTTPStatus
		}
		ctx.JSON(statusCode, gin.H{"error": apiErr})
		return
	}

	// 默认错误格式
	ctx.JSON(statusCode, gin.H{"error": gin.H{"message": err.Error()}})
}
