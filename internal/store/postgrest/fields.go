package postgrest

import "fmt"

// FieldNames maps the relay's canonical record names onto the tables and
// columns of a particular deployment. Older deployments used Catalan column
// names for the device and user references; everything else is shared.
type FieldNames struct {
	DevicesTable   string
	SessionsTable  string
	PointsTable    string
	RawPointsTable string
	DeviceID       string
	UserID         string
}

func CanonicalFieldNames() FieldNames {
	return FieldNames{
		DevicesTable:   "devices",
		SessionsTable:  "sessions",
		PointsTable:    "gps_points",
		RawPointsTable: "raw_points",
		DeviceID:       "device_id",
		UserID:         "user_id",
	}
}

func LegacyFieldNames() FieldNames {
	f := CanonicalFieldNames()
	f.DeviceID = "dispositiu_id"
	f.UserID = "usuari_id"
	return f
}

func FieldNamesFor(name string) (FieldNames, error) {
	switch name {
	case "", "canonical":
		return CanonicalFieldNames(), nil
	case "legacy":
		return LegacyFieldNames(), nil
	default:
		return FieldNames{}, fmt.Errorf("unknown field names %q", name)
	}
}
