package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "reconciliation-service/common/errors"
)

// Product is the catalog view checkout prices against.
type Product struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price float64   `json:"price"`
	Stock int       `json:"stock"`
}

// PriceMinor converts the catalog's decimal price to minor units.
func (p Product) PriceMinor() int64 {
	return decimal.NewFromFloat(p.Price).Shift(2).Round(0).IntPart()
}

// ProductCatalog looks products up by id.
type ProductCatalog interface {
	FetchProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
}

// HTTPProductCatalog calls the product service's internal endpoint.
type HTTPProductCatalog struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProductCatalog(baseURL string) *HTTPProductCatalog {
	return &HTTPProductCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPProductCatalog) FetchProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	url := fmt.Sprintf("%s/products/internal/%s", c.baseURL, productID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Transient("product service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Validation(fmt.Sprintf("product %s does not exist", productID))
	case resp.StatusCode >= 500:
		return nil, apperrors.Transient(fmt.Sprintf("product service returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("product service returned %d", resp.StatusCode)
	}

	var prod Product
	if err := json.NewDecoder(resp.Body).Decode(&prod); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", productID, err)
	}
	if prod.ID == uuid.Nil {
		prod.ID = productID
	}
	return &prod, nil
}
