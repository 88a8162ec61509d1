package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

// openapiDocument 對外 API 的契約，路由與文件不一致時測試會失敗
//
//go:embed openapi.yaml
var openapiDocument []byte

// (GET /openapi.yaml)
func (s *Server) GetOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", openapiDocument)
}
