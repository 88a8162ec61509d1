package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openapiPath 將 gin 的 :param 轉成 OpenAPI 的 {param}
func openapiPath(ginPath string) string {
	segments := lo.Map(strings.Split(ginPath, "/"), func(segment string, _ int) string {
		if strings.HasPrefix(segment, ":") {
			return "{" + segment[1:] + "}"
		}
		return segment
	})
	return strings.Join(segments, "/")
}

func TestOpenAPIDocument(t *testing.T) {
	// 準備測試環境
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))
	env := newTestEnv(t)

	// 執行測試
	documented := map[string]string{}
	for path, item := range doc.Paths.Map() {
		for method, operation := range item.Operations() {
			documented[method+" "+path] = operation.OperationID
		}
	}
	registered := map[string]string{}
	for _, route := range env.server.router.Routes() {
		registered[route.Method+" "+openapiPath(route.Path)] = route.Handler
	}

	// 驗證結果
	assert.ElementsMatch(t, lo.Keys(documented), lo.Keys(registered))
	for key, operationID := range documented {
		handler, ok := registered[key]
		if !ok || operationID == "GetMetrics" {
			continue
		}
		assert.True(t, strings.HasSuffix(handler, "."+operationID+"-fm"), "%s is served by %s", key, handler)
	}
}

func TestGetOpenAPI(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, request{method: http.MethodGet, path: "/openapi.yaml"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, openapiDocument, w.Body.Bytes())
}
