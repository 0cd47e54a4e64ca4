// Package settings stores shop-wide preferences as explicit typed structs,
// one per category, outside the versioned job store.
package settings

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/workbay/workbay/internal/shared"
)

// Category names a settings group.
type Category string

const (
	CategoryPrint             Category = "print"
	CategoryQuickDescriptions Category = "quick_descriptions"
)

// PaperSize enumerates supported job card paper sizes.
type PaperSize string

const (
	PaperA4     PaperSize = "a4"
	PaperA5     PaperSize = "a5"
	PaperLetter PaperSize = "letter"
)

// PrintSettings controls job card and label printing.
type PrintSettings struct {
	PaperSize     PaperSize `json:"paper_size" validate:"oneof=a4 a5 letter"`
	Copies        int       `json:"copies" validate:"min=1,max=5"`
	LabelWidthMM  int       `json:"label_width_mm" validate:"min=20,max=150"`
	LabelHeightMM int       `json:"label_height_mm" validate:"min=10,max=150"`
	ShowPrices    bool      `json:"show_prices"`
	ShowGST       bool      `json:"show_gst"`
	FooterText    string    `json:"footer_text" validate:"max=500"`
}

// DefaultPrintSettings is used until an operator saves settings.
func DefaultPrintSettings() PrintSettings {
	return PrintSettings{
		PaperSize:     PaperA4,
		Copies:        1,
		LabelWidthMM:  62,
		LabelHeightMM: 29,
		ShowPrices:    true,
		ShowGST:       true,
	}
}

// QuickDescriptions are the canned line item descriptions offered while
// editing a job.
type QuickDescriptions struct {
	Items []string `json:"items" validate:"max=100,dive,required,max=200"`
}

// DefaultQuickDescriptions is used until an operator saves a list.
func DefaultQuickDescriptions() QuickDescriptions {
	return QuickDescriptions{Items: []string{"Blade sharpen", "Full service", "Carburettor clean", "Pull cord replace"}}
}

// Normalise trims entries and drops blanks and duplicates, keeping order.
func (q QuickDescriptions) Normalise() QuickDescriptions {
	seen := make(map[string]struct{}, len(q.Items))
	out := make([]string, 0, len(q.Items))
	for _, item := range q.Items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return QuickDescriptions{Items: out}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := &shared.ValidationError{}
	for _, fe := range verrs {
		out.Add(fieldPath(fe.Namespace()), describe(fe))
	}
	return out.Err()
}

func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "required":
		return "is required"
	default:
		return "is invalid"
	}
}
