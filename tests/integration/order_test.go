//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestGetOrder_NotFound(t *testing.T) {
	resp := doGet(t, "/api/orders/no-such-order")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListUserOrders_OwnEmptyList(t *testing.T) {
	resp := doGetWithHeaders(t, "/api/orders/user/u-empty", map[string]string{"X-User-ID": "u-empty"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestListUserOrders_OtherUserForbidden(t *testing.T) {
	resp := doGetWithHeaders(t, "/api/orders/user/u2", map[string]string{"X-User-ID": "u1"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestListOrders_Unauthorized(t *testing.T) {
	resp := doGet(t, "/api/orders")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListOrders_WrongKey(t *testing.T) {
	resp := doGetWithHeaders(t, "/api/orders", map[string]string{"api_key": "not-the-key"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListOrders_EmptyWithAdminKey(t *testing.T) {
	resp := doGetWithHeaders(t, "/api/orders", map[string]string{"api_key": adminAPIKey})
	defer resp.Body.Close()

	// No settlements have happened in this stack, so the admin listing is
	// empty and reports 404.
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Message != "no orders found" {
		t.Errorf("message: got %q", errResp.Message)
	}
}

func TestListOrders_InvalidStatusFilter(t *testing.T) {
	resp := doGetWithHeaders(t, "/api/orders?status=shipped", map[string]string{"api_key": adminAPIKey})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
