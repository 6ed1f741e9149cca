// Package web はログイン画面とログイン後のページを描画します。
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/demo-security/internal/auth"
	"github.com/yourusername/demo-security/internal/security"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	loginTemplate = "login.html"
	pageTemplate  = "page.html"
)

// LoadTemplates は埋め込みテンプレートをルーターに登録します。
func LoadTemplates(router *gin.Engine) {
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))
}

// LoginPage はログイン画面のハンドラーを返します。
// 失敗を示すクエリがある場合は、理由を区別しないメッセージを表示します。
func LoginPage(login security.LoginFlowConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.HTML(http.StatusOK, loginTemplate, gin.H{
			"SubmitPath":    login.SubmitPath,
			"UsernameField": login.UsernameField,
			"PasswordField": login.PasswordField,
			"Failed":        c.Request.URL.Query().Has(security.FailureParam),
		})
	}
}

// Page はログイン済みユーザー向けのページのハンドラーを返します。
func Page(title string, logout security.LogoutFlowConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := auth.CurrentPrincipal(c)
		if principal == nil {
			// Authorize を通っていない構成ミス
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ログイン情報を取得できませんでした",
			})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.HTML(http.StatusOK, pageTemplate, gin.H{
			"Title":      title,
			"Username":   principal.Username,
			"Roles":      principal.Roles,
			"LogoutPath": logout.LogoutPath,
			"CSRFField":  auth.CSRFField,
			"CSRFToken":  auth.CSRFToken(c),
		})
	}
}
