// Package classify derives an item's display icon and category from its
// name using keyword tables.
package classify

import "strings"

// Classifier derives display metadata for an item name.
type Classifier interface {
	Icon(name string) string
	Category(name string) string
}

const (
	// DefaultIcon is used when no keyword matches.
	DefaultIcon = "🛒"

	// DefaultCategory is used when no keyword matches.
	DefaultCategory = "General"
)

// Rule maps any of its keywords to an icon and category. Category may be
// empty when a keyword only decides the icon.
type Rule struct {
	Keywords []string
	Icon     string
	Category string
}

// Table is a Classifier that checks rules in order; the first rule with a
// keyword contained in the lowercased name wins.
type Table struct {
	Rules []Rule
}

// Icon implements Classifier.
func (t Table) Icon(name string) string {
	if r, ok := t.match(name, func(r Rule) bool { return r.Icon != "" }); ok {
		return r.Icon
	}
	return DefaultIcon
}

// Category implements Classifier.
func (t Table) Category(name string) string {
	if r, ok := t.match(name, func(r Rule) bool { return r.Category != "" }); ok {
		return r.Category
	}
	return DefaultCategory
}

func (t Table) match(name string, want func(Rule) bool) (Rule, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, r := range t.Rules {
		if !want(r) {
			continue
		}
		for _, kw := range r.Keywords {
			if strings.Contains(n, kw) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// Default is the built-in English and Hebrew keyword table.
var Default Classifier = Table{Rules: defaultRules}

var defaultRules = []Rule{
	// More specific phrases come before the words they contain.
	{Keywords: []string{"potato", "תפוח אדמה", "תפו\"א"}, Icon: "🥔", Category: "Produce"},
	{Keywords: []string{"apple", "orange", "תפוח", "תפוז"}, Icon: "🍎", Category: "Produce"},
	{Keywords: []string{"banana", "בננ"}, Icon: "🍌", Category: "Produce"},
	{Keywords: []string{"tomato", "עגבני"}, Icon: "🍅", Category: "Produce"},
	{Keywords: []string{"cucumber", "מלפפון"}, Icon: "🥒", Category: "Produce"},
	{Keywords: []string{"carrot", "גזר"}, Icon: "🥕", Category: "Produce"},
	{Keywords: []string{"onion", "בצל"}, Icon: "🧅", Category: "Produce"},
	{Keywords: []string{"garlic", "שום"}, Icon: "🧄", Category: "Produce"},
	{Keywords: []string{"lettuce", "חסה"}, Icon: "🥬", Category: "Produce"},

	{Keywords: []string{"milk", "חלב"}, Icon: "🥛", Category: "Dairy"},
	{Keywords: []string{"cheese", "cottage", "גבינ", "קוטג"}, Icon: "🧀", Category: "Dairy"},
	{Keywords: []string{"yogurt", "cream", "יוגורט", "שמנת"}, Icon: "🥛", Category: "Dairy"},
	{Keywords: []string{"butter", "חמאה"}, Icon: "🧈", Category: "Dairy"},

	{Keywords: []string{"bread", "pita", "לחם", "פיתה"}, Icon: "🍞", Category: "Bakery"},
	{Keywords: []string{"baguette", "challah", "חלה", "בגט"}, Icon: "🥖", Category: "Bakery"},
	{Keywords: []string{"cake", "עוגה"}, Icon: "🍰", Category: "Bakery"},

	{Keywords: []string{"beef", "steak", "meat", "בשר", "סטייק"}, Icon: "🥩", Category: "Meat & Fish"},
	{Keywords: []string{"chicken", "עוף"}, Icon: "🍗", Category: "Meat & Fish"},
	{Keywords: []string{"fish", "salmon", "tuna", "סלמון", "טונה"}, Icon: "🐟", Category: "Meat & Fish"},
	{Keywords: []string{"egg", "ביצ"}, Icon: "🥚", Category: "Meat & Fish"},

	{Keywords: []string{"water", "מים"}, Icon: "💧", Category: "Drinks"},
	{Keywords: []string{"coffee", "קפה"}, Icon: "☕", Category: "Drinks"},
	{Keywords: []string{"juice", "מיץ"}, Icon: "🧃", Category: "Drinks"},
	{Keywords: []string{"beer", "בירה"}, Icon: "🍺", Category: "Drinks"},
	{Keywords: []string{"wine", "יין"}, Icon: "🍷", Category: "Drinks"},

	{Keywords: []string{"chocolate", "שוקולד"}, Icon: "🍫", Category: "Snacks"},
	{Keywords: []string{"cookie", "עוגיי"}, Icon: "🍪", Category: "Snacks"},
	{Keywords: []string{"chips", "snack", "חטיף", "במבה", "ביסלי"}, Icon: "🍿", Category: "Snacks"},

	{Keywords: []string{"rice", "אורז"}, Icon: "🍚", Category: "Grains"},
	{Keywords: []string{"pasta", "spaghetti", "פסטה", "ספגטי"}, Icon: "🍝", Category: "Grains"},
	{Keywords: []string{"cereal", "דגני בוקר", "קורנפלקס"}, Icon: "🥣", Category: "Grains"},

	{Keywords: []string{"soap", "detergent", "סבון", "ניקוי"}, Icon: "🧼", Category: "Household"},
	{Keywords: []string{"toilet paper", "נייר טואלט"}, Icon: "🧻", Category: "Household"},
	{Keywords: []string{"sponge", "ספוג"}, Icon: "🧽", Category: "Household"},
	{Keywords: []string{"trash bag", "אשפה", "שקיות"}, Icon: "🗑️", Category: "Household"},

	{Keywords: []string{"diaper", "חיתול"}, Icon: "👶", Category: "Personal Care"},
	{Keywords: []string{"shampoo", "שמפו"}, Icon: "🧴", Category: "Personal Care"},
	{Keywords: []string{"toothpaste", "משחת שיני"}, Icon: "🪥", Category: "Personal Care"},

	{Keywords: []string{"salt", "מלח"}, Icon: "🧂", Category: "Pantry"},
	{Keywords: []string{"sugar", "honey", "סוכר", "דבש"}, Icon: "🍯", Category: "Pantry"},
	{Keywords: []string{"oil", "olive", "שמן", "זית"}, Icon: "🫒", Category: "Pantry"},
	{Keywords: []string{"hummus", "tahini", "חומוס", "טחינה"}, Icon: "🥙", Category: "Pantry"},
}
