package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/utils"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

// buildAdminTestApp creates a minimal Iris app with the admin RBAC chain. The
// probe handler stands in for the DB-backed handlers so the test can assert
// the middleware verdict in isolation.
func buildAdminTestApp() *iris.Application {
	os.Setenv("ACCESS_TOKEN_SECRET", "testsecret")
	app := iris.New()

	verifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	verifyMiddleware := verifier.Verify(func() interface{} { return new(utils.AccessToken) })

	admin := app.Party("/api/admin", verifyMiddleware, utils.AdminOnlyMiddleware)
	{
		admin.Get("/probe", func(ctx iris.Context) {
			ctx.JSON(iris.Map{"ok": true})
		})
	}
	return app
}

func signTestToken(role string) string {
	signer := jwt.NewSigner(jwt.HS256, os.Getenv("ACCESS_TOKEN_SECRET"), 0)
	token, _ := signer.Sign(utils.AccessToken{ID: 1, Name: "Test User", Role: role})
	return string(token)
}

func TestAdminRoutesRBAC(t *testing.T) {
	app := buildAdminTestApp()
	if err := app.Build(); err != nil {
		t.Fatal(err)
	}

	// No token.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/probe", nil)
	resp := httptest.NewRecorder()
	app.ServeHTTP(resp, req)
	if resp.Code == http.StatusOK {
		t.Fatalf("expected non-200 without token, got %d", resp.Code)
	}

	// Worker role -> 403
	req2 := httptest.NewRequest(http.MethodGet, "/api/admin/probe", nil)
	req2.Header.Set("Authorization", "Bearer "+signTestToken("worker"))
	resp2 := httptest.NewRecorder()
	app.ServeHTTP(resp2, req2)
	if resp2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for worker role, got %d", resp2.Code)
	}

	// Admin role -> 200
	req3 := httptest.NewRequest(http.MethodGet, "/api/admin/probe", nil)
	req3.Header.Set("Authorization", "Bearer "+signTestToken("admin"))
	resp3 := httptest.NewRecorder()
	app.ServeHTTP(resp3, req3)
	if resp3.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role, got %d", resp3.Code)
	}

	// super_admin carries admin rights too.
	req4 := httptest.NewRequest(http.MethodGet, "/api/admin/probe", nil)
	req4.Header.Set("Authorization", "Bearer "+signTestToken("super_admin"))
	resp4 := httptest.NewRecorder()
	app.ServeHTTP(resp4, req4)
	if resp4.Code != http.StatusOK {
		t.Fatalf("expected 200 for super_admin role, got %d", resp4.Code)
	}
}
