package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CertificateType identifies a carbon allowance product traded on the
// cash market.
type CertificateType string

const (
	CertificateEUA CertificateType = "EUA" // EU Allowance
	CertificateCEA CertificateType = "CEA" // Chinese Emission Allowance
)

// AllCertificateTypes lists every tradable certificate.
var AllCertificateTypes = []CertificateType{CertificateEUA, CertificateCEA}

// ParseCertificateType normalises and validates a client-supplied
// certificate identifier.
func ParseCertificateType(s string) (CertificateType, error) {
	ct := CertificateType(strings.ToUpper(strings.TrimSpace(s)))
	switch ct {
	case CertificateEUA, CertificateCEA:
		return ct, nil
	}
	return "", fmt.Errorf("%w: unknown certificate type %q", ErrInvalidOrder, s)
}

// Valid reports whether the certificate type is one of the tradable set.
func (c CertificateType) Valid() bool {
	switch c {
	case CertificateEUA, CertificateCEA:
		return true
	}
	return false
}

// Asset returns the balance asset backing this certificate.
func (c CertificateType) Asset() Asset {
	return Asset(c)
}

// Asset is a balance denomination: the settlement currency or a
// certificate holding.
type Asset string

const (
	AssetEUR Asset = "EUR"
	AssetEUA Asset = "EUA"
	AssetCEA Asset = "CEA"
)

// Valid reports whether the asset is a known denomination.
func (a Asset) Valid() bool {
	switch a {
	case AssetEUR, AssetEUA, AssetCEA:
		return true
	}
	return false
}

// Instrument carries the trading parameters of one certificate market.
// Prices are quoted in EUR per tonne; quantities in tonnes.
type Instrument struct {
	Certificate CertificateType `json:"certificate_type"`
	Currency    string          `json:"currency"`
	LotStep     decimal.Decimal `json:"lot_step"`   // minimum quantity increment
	PriceTick   decimal.Decimal `json:"price_tick"` // minimum price increment
}

// DefaultInstrument returns the standard trading parameters for a
// certificate. Lot step and tick can be overridden by configuration.
func DefaultInstrument(c CertificateType) Instrument {
	return Instrument{
		Certificate: c,
		Currency:    "EUR",
		LotStep:     decimal.RequireFromString("0.01"),
		PriceTick:   decimal.RequireFromString("0.01"),
	}
}
