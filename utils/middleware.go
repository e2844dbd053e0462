package utils

import (
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

// Claims returns the verified access token for the current request.
func Claims(ctx iris.Context) *AccessToken {
	if tok := jwt.Get(ctx); tok != nil {
		if at, ok := tok.(*AccessToken); ok {
			return at
		}
	}
	return nil
}

// AdminOnlyMiddleware ensures the requester has admin or super_admin role.
func AdminOnlyMiddleware(ctx iris.Context) {
	claims := jwt.Get(ctx).(*AccessToken)
	if claims.Role != "admin" && claims.Role != "super_admin" {
		ctx.StatusCode(iris.StatusForbidden)
		ctx.JSON(iris.Map{"error": "forbidden", "message": "admin access required"})
		return
	}
	ctx.Values().Set("userID", claims.ID)
	ctx.Next()
}

// WorkerOrAdminMiddleware admits any active team-member role.
func WorkerOrAdminMiddleware(ctx iris.Context) {
	claims := jwt.Get(ctx).(*AccessToken)
	switch claims.Role {
	case "worker", "admin", "super_admin":
		ctx.Values().Set("userID", claims.ID)
		ctx.Next()
	default:
		ctx.StatusCode(iris.StatusForbidden)
		ctx.JSON(iris.Map{"error": "forbidden", "message": "team member access required"})
	}
}

// IsAdminRole reports whether a role string carries admin rights.
func IsAdminRole(role string) bool {
	return role == "admin" || role == "super_admin"
}
