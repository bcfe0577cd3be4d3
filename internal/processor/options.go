package processor

import (
	"github.com/vurakit/lexveil/internal/technique"
	"github.com/vurakit/lexveil/pkg/pii"
)

// Options selects the technique applied to each data type plus the
// run-wide flags. It is read-only during a run.
type Options struct {
	TaxID      technique.Technique `json:"tax_id" mapstructure:"tax_id"`
	CompanyID  technique.Technique `json:"company_id,omitempty" mapstructure:"company_id"`
	PersonName technique.Technique `json:"person_name" mapstructure:"person_name"`
	Phone      technique.Technique `json:"phone" mapstructure:"phone"`
	Email      technique.Technique `json:"email" mapstructure:"email"`
	Date       technique.Technique `json:"date,omitempty" mapstructure:"date"`
	Amount     technique.Technique `json:"amount,omitempty" mapstructure:"amount"`
	Address    technique.Technique `json:"address,omitempty" mapstructure:"address"`

	KeepConsistency    bool `json:"keep_consistency" mapstructure:"keep_consistency"`
	PreserveFormatting bool `json:"preserve_formatting" mapstructure:"preserve_formatting"`

	DateLevel   technique.DateLevel   `json:"date_level,omitempty" mapstructure:"date_level"`
	AmountLevel technique.AmountLevel `json:"amount_level,omitempty" mapstructure:"amount_level"`
}

// DefaultOptions masks identifiers and contacts partially and
// pseudonymizes names, keeping replacements consistent.
func DefaultOptions() Options {
	return Options{
		TaxID:              technique.MaskPartial,
		CompanyID:          technique.MaskPartial,
		PersonName:         technique.Pseudonym,
		Phone:              technique.MaskPartial,
		Email:              technique.MaskPartial,
		Date:               technique.Generalize,
		Amount:             technique.Generalize,
		Address:            technique.Generalize,
		KeepConsistency:    true,
		PreserveFormatting: true,
		DateLevel:          technique.DateYear,
		AmountLevel:        technique.AmountThousands,
	}
}

// TechniqueFor returns the technique configured for cat. An empty company
// technique follows the tax ID one; any other empty field takes its default.
func (o Options) TechniqueFor(cat pii.Category) technique.Technique {
	if t := o.lookup(cat); t != "" {
		return t
	}
	if cat == pii.CatCompanyID && o.TaxID != "" {
		return o.TaxID
	}
	return DefaultOptions().lookup(cat)
}

func (o Options) lookup(cat pii.Category) technique.Technique {
	switch cat {
	case pii.CatTaxID:
		return o.TaxID
	case pii.CatCompanyID:
		return o.CompanyID
	case pii.CatPersonName:
		return o.PersonName
	case pii.CatPhone:
		return o.Phone
	case pii.CatEmail:
		return o.Email
	case pii.CatDate:
		return o.Date
	case pii.CatAmount:
		return o.Amount
	case pii.CatAddress:
		return o.Address
	}
	return ""
}

// Set assigns technique t to cat.
func (o *Options) Set(cat pii.Category, t technique.Technique) {
	switch cat {
	case pii.CatTaxID:
		o.TaxID = t
	case pii.CatCompanyID:
		o.CompanyID = t
	case pii.CatPersonName:
		o.PersonName = t
	case pii.CatPhone:
		o.Phone = t
	case pii.CatEmail:
		o.Email = t
	case pii.CatDate:
		o.Date = t
	case pii.CatAmount:
		o.Amount = t
	case pii.CatAddress:
		o.Address = t
	}
}

func (o Options) techniqueOptions() technique.Options {
	return technique.Options{
		KeepConsistency:    o.KeepConsistency,
		PreserveFormatting: o.PreserveFormatting,
		DateLevel:          o.DateLevel,
		AmountLevel:        o.AmountLevel,
	}
}

// Normalize rewrites technique aliases such as "partial" or "full" to their
// canonical names. Unknown names are kept; they fall back to a total mask
// when applied.
func (o *Options) Normalize() {
	for _, cat := range append(append([]pii.Category{}, pii.Categories...), pii.ExtendedCategories...) {
		if t, ok := technique.Parse(string(o.lookup(cat))); ok {
			o.Set(cat, t)
		}
	}
}
