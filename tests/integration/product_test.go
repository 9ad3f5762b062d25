//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != seededCount {
		t.Fatalf("expected %d products, got %d", seededCount, len(products))
	}

	for _, p := range products {
		if p.ID == "" || p.Name == "" || p.ProductNo == "" {
			t.Errorf("product missing identity fields: %+v", p)
		}
		if p.Price <= 0 {
			t.Errorf("product %s has non-positive price %f", p.ID, p.Price)
		}
	}
}

func TestGetProduct(t *testing.T) {
	resp := doGet(t, "/api/products/prod-denim-jacket")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	p := decodeJSON[productResponse](t, resp)
	if p.ID != "prod-denim-jacket" {
		t.Errorf("expected prod-denim-jacket, got %q", p.ID)
	}
	if p.Quantity <= 0 {
		t.Errorf("expected stocked product, got quantity %d", p.Quantity)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/products/no-such-product")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != http.StatusNotFound {
		t.Errorf("error code: got %d, want 404", errResp.Code)
	}
}
