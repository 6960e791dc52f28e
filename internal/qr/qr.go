package qr

import (
	"github.com/skip2/go-qrcode"

	"ms-bolao/internal/errs"
)

// EncodeCharge renders the charge's copia-e-cola payload as a QR PNG, the
// same image a payer's bank app scans.
func EncodeCharge(copiaECola string, size int) ([]byte, error) {
	if copiaECola == "" {
		return nil, &errs.ValidationError{Field: "copia_e_cola", Reason: "charge has no payload to encode"}
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(copiaECola, qrcode.Medium, size)
}
