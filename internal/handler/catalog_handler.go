package handler

import (
	"net/http"

	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/service"
	"eyeworks-storefront/pkg/response"

	"github.com/gorilla/mux"
)

type CatalogHandler struct {
	catalog *service.Catalog
}

func NewCatalogHandler(catalog *service.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// List serves every product, or those whose category contains ?category=.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.Products()
	if category := r.URL.Query().Get("category"); category != "" {
		products = h.catalog.ByCategory(category)
	}
	if products == nil {
		products = []domain.ProductView{}
	}
	response.Success(w, products)
}

func (h *CatalogHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories := h.catalog.Categories()
	if categories == nil {
		categories = []string{}
	}
	response.Success(w, categories)
}

func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	if productID == "" {
		response.BadRequest(w, "Product ID is required")
		return
	}

	product, err := h.catalog.ByID(r.Context(), productID)
	if err != nil {
		writeError(w, err, "Failed to get product")
		return
	}
	response.Success(w, product)
}

// Submit accepts an admin product form for review. Nothing is written to
// the inventory.
func (h *CatalogHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateProductRequest
	if !decode(w, r, &req) {
		return
	}

	product, err := h.catalog.SubmitProduct(req)
	if err != nil {
		writeError(w, err, "Failed to submit product")
		return
	}
	response.Accepted(w, product)
}
