package telephony

import (
	"fmt"
	"strings"
)

// Config controls vendor construction.
type Config struct {
	Provider string // mock | twilio | exotel
	Twilio   TwilioConfig
	Exotel   ExotelConfig
}

// NewVendor builds the telephony vendor selected by cfg.Provider.
// An empty provider falls back to the in-process mock.
func NewVendor(cfg Config) (Vendor, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "mock"
	}

	switch provider {
	case "mock":
		return NewMockVendor(), nil
	case "twilio":
		return NewTwilioVendor(cfg.Twilio)
	case "exotel":
		return NewExotelVendor(cfg.Exotel)
	default:
		return nil, fmt.Errorf("unsupported telephony provider %q", cfg.Provider)
	}
}
