package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Product is the slice of the catalog the notification core reads.
// Catalog CRUD lives outside the core.
type Product struct {
	ID            string     `json:"id"`
	BrandName     string     `json:"brand_name,omitempty"`
	GenericName   string     `json:"generic_name,omitempty"`
	StockInPieces int        `json:"stock_in_pieces"`
	ReorderLevel  int        `json:"reorder_level"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	IsActive      bool       `json:"is_active"`
}

// DisplayName returns the brand name, falling back to the generic name
func (p *Product) DisplayName() string {
	if p.BrandName != "" {
		return p.BrandName
	}
	if p.GenericName != "" {
		return p.GenericName
	}
	return p.ID
}

// ProductModel is the SQLite-backed ProductSource used by the scanner
type ProductModel struct {
	DB *sql.DB
}

const productColumns = `id, brand_name, generic_name, stock_in_pieces, reorder_level, expiry_date, is_active`

// ListInStock returns active products with stock on hand
func (m *ProductModel) ListInStock(ctx context.Context) ([]Product, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE is_active = 1 AND stock_in_pieces > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list in-stock products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ListOutOfStock returns active products with zero stock
func (m *ProductModel) ListOutOfStock(ctx context.Context) ([]Product, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE is_active = 1 AND stock_in_pieces = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list out-of-stock products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ListExpiringWithin returns active products whose expiry date falls in
// [today, today+days], dates compared as calendar days
func (m *ProductModel) ListExpiringWithin(ctx context.Context, days int) ([]Product, error) {
	today := time.Now().UTC().Format("2006-01-02")
	until := time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")

	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE is_active = 1 AND expiry_date IS NOT NULL
		  AND date(expiry_date) BETWEEN date(?) AND date(?)
	`, today, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	var products []Product
	for rows.Next() {
		var p Product
		var brand, generic sql.NullString
		var expiry sql.NullString

		err := rows.Scan(&p.ID, &brand, &generic, &p.StockInPieces, &p.ReorderLevel, &expiry, &p.IsActive)
		if err != nil {
			return nil, err
		}

		p.BrandName = brand.String
		p.GenericName = generic.String
		if expiry.Valid && expiry.String != "" {
			// Dates stored as YYYY-MM-DD; full timestamps also accepted
			if t, err := time.Parse("2006-01-02", expiry.String[:min(10, len(expiry.String))]); err == nil {
				p.ExpiryDate = &t
			}
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
