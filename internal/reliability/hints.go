package reliability

import (
	"fmt"
	"strings"
)

// VendorFailureHint renders a vendor dial failure as operator guidance.
// Failures we recognize get a concrete remediation hint appended.
func VendorFailureHint(vendor string, err error) string {
	if err == nil {
		return ""
	}
	detail := fmt.Sprintf("%s call error: %v", vendor, err)
	if hint := vendorHint(vendor, err.Error()); hint != "" {
		detail += " (" + hint + ")"
	}
	return detail
}

func vendorHint(vendor, message string) string {
	lower := strings.ToLower(message)
	switch strings.ToLower(vendor) {
	case "twilio":
		if strings.Contains(lower, "21215") || strings.Contains(lower, "not allowed to call") {
			return "enable geographic permissions for the destination country in the Twilio console"
		}
		if strings.Contains(lower, "21219") || strings.Contains(lower, "unverified") {
			return "trial accounts can only call verified numbers; verify the target or upgrade the account"
		}
	case "exotel":
		if strings.Contains(lower, "401") || strings.Contains(lower, "unauthori") {
			return "check EXOTEL_API_KEY, EXOTEL_API_TOKEN and EXOTEL_SID"
		}
		if strings.Contains(lower, "402") || strings.Contains(lower, "payment") {
			return "the Exotel account has run out of balance; top it up to place calls"
		}
	}
	return ""
}
