package userdir

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	mfaTypeTOTP  = "totp"
	totpPeriod   = 30
	totpSkew     = 1
	totpSetupTTL = 10 * time.Minute
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// TOTPSetup is returned when enrollment starts. The secret is shown to the
// user once and must be confirmed with EnableTOTP.
type TOTPSetup struct {
	Secret    string    `json:"secret"`
	URL       string    `json:"otpauth_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SetupTOTP generates a pending TOTP secret. Calling it again replaces any
// previous pending secret.
func (d *Directory) SetupTOTP(ctx context.Context, email, label string) (TOTPSetup, error) {
	var setup TOTPSetup
	err := d.update(email, func(rec *userRecord) error {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      d.issuer,
			AccountName: rec.Email,
			Period:      totpPeriod,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return err
		}
		expires := d.now().Add(totpSetupTTL).UTC()
		rec.PendingTOTP = &pendingTOTP{Secret: key.Secret(), Label: strings.TrimSpace(label), ExpiresAt: expires}
		setup = TOTPSetup{Secret: key.Secret(), URL: key.URL(), ExpiresAt: expires}
		return nil
	})
	return setup, err
}

// EnableTOTP confirms a pending secret with a current code and enrolls it.
// The returned ID identifies the method for DisableMFA.
func (d *Directory) EnableTOTP(ctx context.Context, email, code string) (string, error) {
	id := uuid.NewString()
	err := d.update(email, func(rec *userRecord) error {
		p := rec.PendingTOTP
		if p == nil || !d.now().Before(p.ExpiresAt) {
			return ErrNoPendingTOTP
		}
		code = normalizeCode(code)
		if !d.validCode(p.Secret, code) {
			return ErrInvalidTOTPCode
		}
		label := p.Label
		if label == "" {
			label = "authenticator"
		}
		rec.MFA = append(rec.MFA, mfaRecord{ID: id, Type: mfaTypeTOTP, Label: label, Secret: p.Secret, LastCode: code})
		rec.PendingTOTP = nil
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DisableMFA removes one enrolled method, or all of them when id is empty.
func (d *Directory) DisableMFA(ctx context.Context, email, id string) error {
	return d.update(email, func(rec *userRecord) error {
		if id == "" {
			rec.MFA = nil
			rec.PendingTOTP = nil
			return nil
		}
		for i, m := range rec.MFA {
			if m.ID == id {
				rec.MFA = append(rec.MFA[:i], rec.MFA[i+1:]...)
				return nil
			}
		}
		return ErrMFANotFound
	})
}

// ValidateTOTP accepts a code from any enrolled TOTP method. A code that was
// already used for the same method is rejected.
func (d *Directory) ValidateTOTP(ctx context.Context, email, code string) error {
	code = normalizeCode(code)
	return d.update(email, func(rec *userRecord) error {
		for i := range rec.MFA {
			m := &rec.MFA[i]
			if m.Type != mfaTypeTOTP || m.LastCode == code {
				continue
			}
			if d.validCode(m.Secret, code) {
				m.LastCode = code
				return nil
			}
		}
		return ErrInvalidTOTPCode
	})
}

func (d *Directory) validCode(secret, code string) bool {
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, d.now().UTC(), totpOpts)
	return err == nil && ok
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}
