package vendors

import (
	"context"
	"strings"

	"github.com/angelmondragon/apmatch-backend/pkg/db/models"
)

// Hint carries the supplier identity extracted from an invoice.
type Hint struct {
	Name    string
	TaxID   string
	Address string
	Contact string
}

func (h Hint) normalized() Hint {
	return Hint{
		Name:    strings.TrimSpace(h.Name),
		TaxID:   strings.TrimSpace(h.TaxID),
		Address: strings.TrimSpace(h.Address),
		Contact: strings.TrimSpace(h.Contact),
	}
}

// Resolve finds the vendor by tax id, then by case-insensitive name, and
// creates one from the hint when neither matches. A hint without a name or
// tax id that matches nothing resolves to nil.
func Resolve(ctx context.Context, repo Repository, hint Hint) (*models.Vendor, bool, error) {
	hint = hint.normalized()

	if hint.TaxID != "" {
		vendor, err := repo.FindByTaxID(ctx, hint.TaxID)
		if err != nil || vendor != nil {
			return vendor, false, err
		}
	}
	if hint.Name == "" {
		return nil, false, nil
	}

	vendor, err := repo.FindByName(ctx, hint.Name)
	if err != nil || vendor != nil {
		return vendor, false, err
	}

	vendor = &models.Vendor{
		Name:        hint.Name,
		TaxID:       optional(hint.TaxID),
		Address:     optional(hint.Address),
		ContactInfo: optional(hint.Contact),
	}
	if err := repo.Create(ctx, vendor); err != nil {
		return nil, false, err
	}
	return vendor, true, nil
}

// Mismatch reports whether the extracted supplier contradicts a vendor the
// operator chose explicitly. Differing tax ids are a mismatch; otherwise the
// names are compared without regard to case.
func Mismatch(vendor *models.Vendor, hint Hint) bool {
	if vendor == nil {
		return false
	}
	hint = hint.normalized()
	if hint.TaxID != "" && vendor.TaxID != nil && strings.TrimSpace(*vendor.TaxID) != "" &&
		hint.TaxID != strings.TrimSpace(*vendor.TaxID) {
		return true
	}
	if hint.Name != "" && strings.TrimSpace(vendor.Name) != "" {
		return !strings.EqualFold(hint.Name, strings.TrimSpace(vendor.Name))
	}
	return false
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
