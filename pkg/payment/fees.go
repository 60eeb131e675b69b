package payment

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed fees.yaml
var feesYAML []byte

// feeRow holds per-entity filing fees for one state, in whole dollars.
type feeRow struct {
	LLC   int64 `yaml:"llc"`
	SCorp int64 `yaml:"s-corp"`
	CCorp int64 `yaml:"c-corp"`
}

var (
	feeTable map[string]feeRow
	feeOnce  sync.Once
)

// stateCodeToName maps USPS codes to canonical state names.
var stateCodeToName = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming", "DC": "Washington, DC",
}

func loadFees() {
	feeOnce.Do(func() {
		feeTable = make(map[string]feeRow)
		if err := yaml.Unmarshal(feesYAML, &feeTable); err != nil {
			// Embedded data; a parse failure is a build defect.
			panic(fmt.Sprintf("payment: invalid embedded fee table: %v", err))
		}
	})
}

// ResolveState canonicalizes a user-supplied state: USPS codes, DC variants,
// and case-insensitive full names all resolve; anything else returns "".
func ResolveState(raw string) string {
	loadFees()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if name, ok := stateCodeToName[strings.ToUpper(raw)]; ok {
		return name
	}

	s := strings.ToLower(raw)
	s = strings.NewReplacer(".", "", ",", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	switch s {
	case "dc", "d c", "washington dc", "washington d c", "district of columbia":
		return "Washington, DC"
	}

	for name := range feeTable {
		if strings.EqualFold(name, raw) {
			return name
		}
	}
	return ""
}

// NormalizeEntity canonicalizes an entity label to "LLC", "C-Corp", or
// "S-Corp"; unrecognized input returns "".
func NormalizeEntity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(".", "", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	switch s {
	case "llc", "limited liability company":
		return "LLC"
	case "c corp", "ccorp", "c corporation", "corporation", "corp":
		return "C-Corp"
	case "s corp", "scorp", "s corporation":
		return "S-Corp"
	default:
		return ""
	}
}

// FilingFeeCents returns the state filing fee in cents for a state and entity
// label, both in any of their accepted spellings.
func FilingFeeCents(state, entity string) (int64, error) {
	loadFees()

	canonical := ResolveState(state)
	if canonical == "" {
		return 0, fmt.Errorf("unknown state %q", state)
	}
	row, ok := feeTable[canonical]
	if !ok {
		return 0, fmt.Errorf("no fee data for state %q", canonical)
	}

	switch NormalizeEntity(entity) {
	case "LLC":
		return row.LLC * 100, nil
	case "C-Corp":
		return row.CCorp * 100, nil
	case "S-Corp":
		return row.SCorp * 100, nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}
}
