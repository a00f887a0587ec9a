package domain

import (
	"strings"
	"time"
)

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Stock       int       `json:"stock"`
	Price       float64   `json:"price"`
	Supplier    string    `json:"supplier,omitempty"`
	Description string    `json:"description,omitempty"`
	FrameType   string    `json:"frame_type,omitempty"`
	LensType    string    `json:"lens_type,omitempty"`
	Color       string    `json:"color,omitempty"`
	Size        string    `json:"size,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductView is what the storefront renders: the inventory row plus the
// fields the catalog derives from it.
type ProductView struct {
	Product
	Brand    string   `json:"brand"`
	Features []string `json:"features"`
	Colors   []string `json:"colors"`
}

func (p Product) View() ProductView {
	v := ProductView{
		Product:  p,
		Brand:    p.Supplier,
		Features: []string{},
		Colors:   []string{},
	}
	if v.Brand == "" {
		v.Brand = "Unknown"
	}
	if p.Description != "" {
		v.Features = append(v.Features, p.Description)
	}
	if p.Color != "" {
		v.Colors = append(v.Colors, p.Color)
	}
	return v
}

type CreateProductRequest struct {
	Supplier    string  `json:"supplier" validate:"omitempty,max=120"`
	ItemName    string  `json:"item_name" validate:"required,min=1,max=200"`
	Category    string  `json:"category" validate:"required"`
	Description string  `json:"description" validate:"omitempty,max=2000"`
	Price       float64 `json:"price" validate:"gte=0"`
	FrameType   string  `json:"frame_type"`
	LensType    string  `json:"lens_type"`
	Color       string  `json:"color"`
	Size        string  `json:"size"`
	Image       string  `json:"image" validate:"omitempty,url"`
}

// Product builds the catalog row an admin submission describes. Colors
// are given comma separated.
func (r CreateProductRequest) Product(now time.Time) Product {
	color := ""
	for _, c := range strings.Split(r.Color, ",") {
		if c = strings.TrimSpace(c); c != "" {
			color = c
			break
		}
	}
	return Product{
		Name:        r.ItemName,
		Category:    r.Category,
		Stock:       10,
		Price:       r.Price,
		Supplier:    r.Supplier,
		Description: r.Description,
		FrameType:   r.FrameType,
		LensType:    r.LensType,
		Color:       color,
		Size:        r.Size,
		Image:       r.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
