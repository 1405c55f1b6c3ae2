// Package core defines core types.
package core

// PII labels attached to filter rules. A rule without a label is a
// user-defined string.
const (
	LabelIMEI         = "IMEI"
	LabelDeviceID     = "Device ID"
	LabelPhoneNumber  = "Phone Number"
	LabelEmail        = "Email"
	LabelAdvertiserID = "Advertiser ID"
	LabelSerialNumber = "Serial Number"
	LabelICCID        = "ICC ID"
	LabelIMSI         = "IMSI"
	LabelMACAddress   = "MAC Address"
	LabelLocation     = "Location"
)

// LocationSentinel is the filter value standing in for "current location".
// Location rules never match bytes directly; the candidates come from the
// location provider.
const LocationSentinel = "DEFAULT_PII_VALUE__LOCATION"

// NumericLabel reports whether values carrying label are digit strings,
// in which case redaction keeps them numeric.
func NumericLabel(label string) bool {
	switch label {
	case LabelIMEI, LabelPhoneNumber:
		return true
	}
	return false
}
