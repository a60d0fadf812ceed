package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func staffApp(role string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	})
	app.Use(RequireStaff())
	app.Get("/grade", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestRequireStaffAdmitsAdminsAndTeachers(t *testing.T) {
	for _, role := range []string{"admin", "Teacher", " ADMIN "} {
		resp, err := staffApp(role).Test(httptest.NewRequest(http.MethodGet, "/grade", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, role)
	}
}

func TestRequireStaffRejectsOthers(t *testing.T) {
	for _, role := range []string{"student", "guest", ""} {
		resp, err := staffApp(role).Test(httptest.NewRequest(http.MethodGet, "/grade", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusForbidden, resp.StatusCode, role)
	}
}

func TestIsStaff(t *testing.T) {
	require.True(t, IsStaff("teacher"))
	require.True(t, IsStaff("Admin"))
	require.False(t, IsStaff("student"))
	require.False(t, IsStaff(""))
}
