package guardian

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-selfbell/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newApp(svc *Service, userID int64) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/api/v1"), svc, auth.WithUserID(userID))
	return app
}

func TestAddGuardianHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT display_name FROM users`).
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"display_name"}).AddRow("Mom"))
	mock.ExpectExec(`INSERT INTO guardian_links`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	app := newApp(NewService(mock), 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/guardians", bytes.NewReader([]byte(`{"guardianId":2}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("add guardian status: %v %v", resp.StatusCode, err)
	}
	var g Guardian
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil || g.Name != "Mom" {
		t.Fatalf("unexpected body %+v err %v", g, err)
	}
}

func TestAddGuardianHandlerErrors(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, display_name FROM users WHERE email`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	app := newApp(NewService(mock), 1)
	cases := []struct {
		body string
		want int
	}{
		{`{}`, http.StatusBadRequest},
		{`{"guardianId":1}`, http.StatusBadRequest},
		{`{"email":"ghost@example.com"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/guardians", bytes.NewReader([]byte(tc.body)))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.body, tc.want, resp.StatusCode)
		}
	}
}

func TestListGuardiansHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM guardian_links`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "display_name"}).AddRow(int64(2), "Mom"))

	resp, err := newApp(NewService(mock), 1).Test(httptest.NewRequest(http.MethodGet, "/api/v1/guardians", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %v", err)
	}
	var guardians []Guardian
	_ = json.NewDecoder(resp.Body).Decode(&guardians)
	if len(guardians) != 1 {
		t.Fatalf("expected one guardian, got %v", guardians)
	}
}

func TestRemoveGuardianHandler(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM guardian_links`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	app := newApp(NewService(mock), 1)
	resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/guardians/2", nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/guardians/abc", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}

func TestGuardianHandlersRequireUser(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/api/v1"), NewService(nil), func(c *fiber.Ctx) error { return c.Next() })
	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/guardians/wards", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
	}
}
