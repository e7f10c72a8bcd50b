package listings

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries per-field messages for the form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "listings: invalid fields: " + strings.Join(keys, ",")
}

// submission is a draft coerced to typed values.
type submission struct {
	Title               string   `validate:"required,max=200"`
	Description         string   `validate:"required,max=10000"`
	Price               float64  `validate:"gt=0"`
	Stock               int      `validate:"gte=0,lte=100000"`
	CategoryID          string   `validate:"required"`
	Platform            string   `validate:"max=100"`
	Tags                []string `validate:"max=20,dive,max=40"`
	AutoDelivery        bool
	AutoDeliveryContent string `validate:"max=10000"`
}

var fieldMessages = map[string]string{
	"Title":               "İlan başlığı gerekli",
	"Description":         "Açıklama gerekli",
	"Price":               "Geçerli bir fiyat girin",
	"Stock":               "Stok adedi 0 veya daha büyük bir tam sayı olmalı",
	"CategoryID":          "Kategori seçin",
	"Platform":            "Platform en fazla 100 karakter olabilir",
	"Tags":                "En fazla 20 etiket, her biri en fazla 40 karakter",
	"AutoDeliveryContent": "Teslimat içeriği çok uzun",
}

var formFieldNames = map[string]string{
	"Title":               "title",
	"Description":         "description",
	"Price":               "price",
	"Stock":               "stock",
	"CategoryID":          "category_id",
	"Platform":            "platform",
	"Tags":                "tags",
	"AutoDeliveryContent": "auto_delivery_content",
}

func coerce(v *validator.Validate, d *Draft) (submission, error) {
	s := submission{
		Title:               strings.TrimSpace(d.Title),
		Description:         strings.TrimSpace(d.Description),
		CategoryID:          strings.TrimSpace(d.CategoryID),
		Platform:            strings.TrimSpace(d.Platform),
		Tags:                ParseTags(d.Tags),
		AutoDelivery:        d.AutoDelivery,
		AutoDeliveryContent: d.AutoDeliveryContent,
	}
	fields := make(map[string]string)

	price, ok := ParsePrice(d.Price)
	if !ok {
		fields["price"] = fieldMessages["Price"]
	}
	s.Price = price

	stock, err := strconv.Atoi(strings.TrimSpace(d.Stock))
	if err != nil {
		fields["stock"] = fieldMessages["Stock"]
	}
	s.Stock = stock

	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return s, err
		}
		for _, fe := range verrs {
			name := formFieldNames[fe.StructField()]
			if name == "" {
				name = strings.ToLower(fe.StructField())
			}
			if _, seen := fields[name]; !seen {
				fields[name] = fieldMessages[fe.StructField()]
			}
		}
	}
	if len(fields) > 0 {
		return s, &ValidationError{Fields: fields}
	}
	return s, nil
}
