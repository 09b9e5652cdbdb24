package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"labdesk-backend/internal/apperr"
	"labdesk-backend/internal/audit"
	"labdesk-backend/internal/models"
	"labdesk-backend/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func newApp(db *gorm.DB) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				return c.Status(apperr.HTTPStatus(ae.Kind)).JSON(fiber.Map{"code": ae.Code})
			}
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.SendStatus(fiber.StatusInternalServerError)
		},
	})
	app.Post("/register-admin", RegisterAdminHandler(db))
	app.Post("/login", LoginHandler(db, testSecret))

	protected := app.Group("", JWTMiddleware(testSecret))
	protected.Get("/me", MeHandler(db))
	protected.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(audit.ActorFrom(c.UserContext()).Name)
	})
	protected.Post("/operators", RequireRole(models.RoleAdmin), CreateOperatorHandler(db))
	return app
}

func do(t *testing.T, app *fiber.App, method, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func login(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()
	status, out := do(t, app, "POST", "/login", "", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, fiber.StatusOK, status)
	return out["token"].(string)
}

func TestRegisterAdminOnlyOnce(t *testing.T) {
	db := testutil.NewDB(t)
	app := newApp(db)

	status, out := do(t, app, "POST", "/register-admin", "", `{"name":"Root","email":" Root@Lab.io ","password":"supersecret"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "root@lab.io", out["email"])
	assert.Equal(t, "admin", out["role"])

	status, out = do(t, app, "POST", "/register-admin", "", `{"name":"Other","email":"other@lab.io","password":"supersecret"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "admin_exists", out["code"])
}

func TestLoginAndMe(t *testing.T) {
	db := testutil.NewDB(t)
	app := newApp(db)
	_, err := CreateOperator(context.Background(), db, "Root", "root@lab.io", "supersecret", models.RoleAdmin)
	require.NoError(t, err)

	status, _ := do(t, app, "POST", "/login", "", `{"email":"root@lab.io","password":"wrong-password"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = do(t, app, "POST", "/login", "", `{"email":"nobody@lab.io","password":"supersecret"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	token := login(t, app, "ROOT@lab.io", "supersecret")

	status, out := do(t, app, "GET", "/me", token, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Root", out["name"])

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	name, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Root", string(name))
}

func TestJWTMiddlewareRejects(t *testing.T) {
	db := testutil.NewDB(t)
	app := newApp(db)

	status, _ := do(t, app, "GET", "/me", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = do(t, app, "GET", "/me", "not-a-jwt", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	forged, err := GenerateToken("other-secret", &models.Operator{ID: 1, Role: models.RoleAdmin})
	require.NoError(t, err)
	status, _ = do(t, app, "GET", "/me", forged, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestOnlyAdminsCreateOperators(t *testing.T) {
	db := testutil.NewDB(t)
	app := newApp(db)
	_, err := CreateOperator(context.Background(), db, "Root", "root@lab.io", "supersecret", models.RoleAdmin)
	require.NoError(t, err)
	_, err = CreateOperator(context.Background(), db, "Clerk", "clerk@lab.io", "clerkpass", models.RoleDesk)
	require.NoError(t, err)

	clerk := login(t, app, "clerk@lab.io", "clerkpass")
	status, _ := do(t, app, "POST", "/operators", clerk, `{"name":"X","email":"x@lab.io","password":"password1"}`)
	assert.Equal(t, fiber.StatusForbidden, status)

	admin := login(t, app, "root@lab.io", "supersecret")
	status, out := do(t, app, "POST", "/operators", admin, `{"name":"Desk 2","email":"desk2@lab.io","password":"password1"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "desk", out["role"])

	status, out = do(t, app, "POST", "/operators", admin, `{"name":"Desk 2","email":"desk2@lab.io","password":"password1"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "email_taken", out["code"])

	var entry models.AuditLog
	require.NoError(t, db.Where("entity_type = ? AND operator_name = ?", "operator", "Root").First(&entry).Error)
	assert.NotContains(t, entry.AfterData, "password")
}

func TestCreateOperatorValidation(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	_, err := CreateOperator(ctx, db, "", "a@lab.io", "password1", models.RoleDesk)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = CreateOperator(ctx, db, "A", "a@lab.io", "short", models.RoleDesk)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = CreateOperator(ctx, db, "A", "a@lab.io", "password1", "owner")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
