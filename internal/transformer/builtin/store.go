package builtin

var provinceStores = map[string]string{
	"Ontario":                   "Ontario Retail",
	"Quebec":                    "Quebec Retail",
	"British Columbia":          "BC Retail",
	"Alberta":                   "Alberta Retail",
	"Manitoba":                  "Manitoba Retail",
	"Saskatchewan":              "Saskatchewan Retail",
	"Nova Scotia":               "Nova Scotia Retail",
	"New Brunswick":             "New Brunswick Retail",
	"Newfoundland and Labrador": "Newfoundland Retail",
	"Prince Edward Island":      "PEI Retail",
	"Northwest Territories":     "Northwest Territories Retail",
	"Nunavut":                   "Nunavut Retail",
	"Yukon":                     "Yukon Retail",
}

// StoreForProvince maps a Canadian province or territory to its store name.
// Unmapped values become "<province> Store"; an empty province is "Unknown Store".
func StoreForProvince(province string) string {
	if s, ok := provinceStores[province]; ok {
		return s
	}
	if province == "" {
		return "Unknown Store"
	}
	return province + " Store"
}
