package util

import "strings"

// MaskPhone hides the middle digits of a phone number so it can appear in
// log output without exposing the full number, e.g. "+2348012345678" ->
// "+2348*****5678".
func MaskPhone(phone string) string {
	if len(phone) <= 8 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:5] + strings.Repeat("*", len(phone)-9) + phone[len(phone)-4:]
}
