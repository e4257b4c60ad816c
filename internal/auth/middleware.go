package auth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const localsUserID = "user_id"

// JWTMiddleware validates access tokens and stores the user id in locals.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := parseBearer(c.Get("Authorization"))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := parseMiddlewareClaimsFn(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		})
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*Claims)
		if !ok || !parsed.Valid || claims.Kind != kindAccess {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}

		c.Locals(localsUserID, claims.UserID)
		return c.Next()
	}
}

var parseMiddlewareClaimsFn = func(token string, claims jwt.Claims, keyFunc jwt.Keyfunc) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
}

// UserID returns the authenticated user set by JWTMiddleware.
func UserID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(localsUserID).(int64)
	return id, ok && id > 0
}

// WithUserID stores id the way JWTMiddleware does. Tests use it to stub
// authentication.
func WithUserID(id int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(localsUserID, id)
		return c.Next()
	}
}
