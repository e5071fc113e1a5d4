package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/audit"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/sqid"
	"github.com/Plabrum/arive/internal/store"
)

func campaignsObject() *objects.Object {
	return &objects.Object{
		Type:       "campaigns",
		Table:      "campaigns",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString},
			{Key: "brand_id", Label: "Brand", Type: objects.FieldObject},
		},
	}
}

// createCampaign carries a cross-object reference, so the handler has to
// translate the encoded brand id before dispatch.
type createCampaign struct{ Base }

func (a *createCampaign) Key() string   { return "create" }
func (a *createCampaign) Label() string { return "Create Campaign" }
func (a *createCampaign) Priority() int { return 0 }
func (a *createCampaign) Requires() []Capability {
	return []Capability{CapWrite}
}

func (a *createCampaign) Payload() *PayloadSpec {
	return &PayloadSpec{Fields: []PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
		{Key: "brand_id", Label: "Brand", Type: objects.FieldObject},
	}}
}

func (a *createCampaign) Execute(ctx context.Context, ec *ExecContext) (*Response, error) {
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, map[string]any{
		"team_id":  ec.Scope.TeamID,
		"name":     PayloadString(ec.Payload, "name"),
		"brand_id": PayloadInt64(ec.Payload, "brand_id"),
	})
	if err != nil {
		return nil, err
	}
	return &Response{Message: "created", Result: map[string]any{"id": row["id"]}}, nil
}

func testHandler(t *testing.T) (*Handler, *Deps, *sqid.Codec) {
	t.Helper()
	s := testStore(t)
	objReg := objects.NewRegistry()
	if err := objReg.Register(campaignsObject()); err != nil {
		t.Fatalf("register object: %v", err)
	}
	deps := &Deps{
		Store:   s,
		Objects: objReg,
		Engine:  objects.NewEngine(s.Dialect),
		Audit:   audit.NewRecorder(s),
	}
	reg := NewRegistry()
	group, err := reg.AddGroup("campaigns", "campaigns")
	if err != nil {
		t.Fatalf("add group: %v", err)
	}
	group.MustRegister(&createCampaign{})

	codec, err := sqid.New()
	if err != nil {
		t.Fatalf("sqid codec: %v", err)
	}
	return NewHandler(NewDispatcher(reg, deps), codec), deps, codec
}

func testApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *apperror.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(fiber.Map{"error": appErr.Message})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})
	RegisterRoutes(app, h, func(c *fiber.Ctx) error {
		ctx := scope.WithScope(c.UserContext(), scope.TeamScope(1))
		ctx = WithActor(ctx, Actor{
			UserID:       1,
			Email:        "owner@example.com",
			Capabilities: []Capability{CapRead, CapWrite, CapDestroy},
		})
		c.SetUserContext(ctx)
		return c.Next()
	})
	return app
}

func TestDecodeObjectFields(t *testing.T) {
	h, _, codec := testHandler(t)

	payload := map[string]any{"name": "Launch", "brand_id": codec.Encode(42)}
	if err := h.decodeObjectFields("campaigns", "create", payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id, ok := payload["brand_id"].(int64); !ok || id != 42 {
		t.Fatalf("brand_id not decoded, got %v (%T)", payload["brand_id"], payload["brand_id"])
	}
	if payload["name"] != "Launch" {
		t.Fatalf("non-reference field mutated: %v", payload["name"])
	}

	// Numeric references pass through untouched.
	payload = map[string]any{"brand_id": float64(7)}
	if err := h.decodeObjectFields("campaigns", "create", payload); err != nil {
		t.Fatalf("decode numeric: %v", err)
	}
	if v, ok := payload["brand_id"].(float64); !ok || v != 7 {
		t.Fatalf("numeric reference mutated: %v", payload["brand_id"])
	}

	// Malformed encodings are a client error, not a silent zero.
	payload = map[string]any{"brand_id": "!!not-an-id!!"}
	err := h.decodeObjectFields("campaigns", "create", payload)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 400 {
		t.Fatalf("expected 400 for malformed reference, got %v", err)
	}
}

func TestTrigger_StoresDecodedObjectReference(t *testing.T) {
	h, deps, codec := testHandler(t)
	app := testApp(h)

	body := fmt.Sprintf(`{"action":"create","data":{"name":"Launch","brand_id":%q}}`, codec.Encode(42))
	req := httptest.NewRequest("POST", "/actions/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("trigger status %d", resp.StatusCode)
	}

	pb := deps.Store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT brand_id FROM campaigns WHERE name = "+pb.Add("Launch"), pb.Params()...)
	if err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if id, _ := row["brand_id"].(int64); id != 42 {
		t.Fatalf("stored brand_id = %v, want 42", row["brand_id"])
	}
}

func TestTrigger_RejectsMalformedObjectReference(t *testing.T) {
	h, _, _ := testHandler(t)
	app := testApp(h)

	body := `{"action":"create","data":{"name":"Launch","brand_id":"!!not-an-id!!"}}`
	req := httptest.NewRequest("POST", "/actions/campaigns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for malformed reference, got %d", resp.StatusCode)
	}
}
