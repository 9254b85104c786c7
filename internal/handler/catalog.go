package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vastramlabs/vastram-core/internal/domain/catalog"
)

type productVariantDTO struct {
	Color     string          `json:"color,omitempty"`
	Size      string          `json:"size,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
}

type productDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    string              `json:"category,omitempty"`
	BasePrice   decimal.Decimal     `json:"base_price"`
	Variants    []productVariantDTO `json:"variants"`
}

func toProductDTO(p catalog.Product) productDTO {
	dto := productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		BasePrice:   p.BasePrice,
		Variants:    make([]productVariantDTO, len(p.Variants)),
	}
	for i, v := range p.Variants {
		dto.Variants[i] = productVariantDTO{
			Color:     v.Variant.Color,
			Size:      v.Variant.Size,
			UnitPrice: v.UnitPrice,
			Stock:     v.Stock,
		}
	}
	return dto
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	dtos := make([]productDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTO(*p))
}
