package transcription

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// LanguagePack bundles the language-specific verbalization transforms for
// one language, applied in a fixed order: dates and currency before bare
// numbers, so their digits are not consumed first.
func LanguagePack(language string) (Transform, bool) {
	switch strings.ToLower(language) {
	case "en":
		return Chain(VerbalizeDatesEN(), VerbalizeCurrencyEN(), VerbalizePercentEN(), VerbalizeUnitsEN(), VerbalizeNumbersEN()), true
	case "de":
		return Chain(VerbalizeDatesDE(), VerbalizeCurrencyDE(), VerbalizePercentDE(), VerbalizeUnitsDE(), VerbalizeNumbersDE()), true
	}
	return nil, false
}

// ─── English ───

var onesEN = []string{"zero", "one", "two", "three", "four", "five", "six",
	"seven", "eight", "nine", "ten", "eleven", "twelve", "thirteen",
	"fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen"}

var tensEN = []string{"", "", "twenty", "thirty", "forty", "fifty", "sixty",
	"seventy", "eighty", "ninety"}

// NumberWordsEN spells a non-negative integer below one billion.
func NumberWordsEN(n int64) string {
	switch {
	case n < 0 || n >= 1_000_000_000:
		return strconv.FormatInt(n, 10)
	case n < 20:
		return onesEN[n]
	case n < 100:
		s := tensEN[n/10]
		if n%10 != 0 {
			s += "-" + onesEN[n%10]
		}
		return s
	case n < 1000:
		s := onesEN[n/100] + " hundred"
		if n%100 != 0 {
			s += " " + NumberWordsEN(n%100)
		}
		return s
	case n < 1_000_000:
		s := NumberWordsEN(n/1000) + " thousand"
		if n%1000 != 0 {
			s += " " + NumberWordsEN(n%1000)
		}
		return s
	default:
		s := NumberWordsEN(n/1_000_000) + " million"
		if n%1_000_000 != 0 {
			s += " " + NumberWordsEN(n%1_000_000)
		}
		return s
	}
}

var intEN = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+\b|\b\d+\b`)

// VerbalizeNumbersEN spells bare integers as English words.
func VerbalizeNumbersEN() Transform {
	return BufferedRegex(intEN, func(m string) string {
		n, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
		if err != nil {
			return m
		}
		return NumberWordsEN(n)
	})
}

var currencyEN = regexp.MustCompile(`[$€£](\d+(?:,\d{3})*)(?:\.(\d{2}))?`)

var currencyNamesEN = map[rune][2]string{
	'$': {"dollar", "cent"},
	'£': {"pound", "penny"},
	'€': {"euro", "cent"},
}

// VerbalizeCurrencyEN rewrites amounts like "$5.20" to "five dollars and
// twenty cents".
func VerbalizeCurrencyEN() Transform {
	return BufferedRegex(currencyEN, func(m string) string {
		sub := currencyEN.FindStringSubmatch(m)
		major, _ := strconv.ParseInt(strings.ReplaceAll(sub[1], ",", ""), 10, 64)
		symbol, _ := utf8.DecodeRuneInString(m)
		unit, subunit := "euro", "cent"
		if names, ok := currencyNamesEN[symbol]; ok {
			unit, subunit = names[0], names[1]
		}
		out := NumberWordsEN(major) + " " + pluralEN(unit, major)
		if sub[2] != "" {
			minor, _ := strconv.ParseInt(sub[2], 10, 64)
			if minor > 0 {
				out += " and " + NumberWordsEN(minor) + " " + pluralEN(subunit, minor)
			}
		}
		return out
	})
}

func pluralEN(unit string, n int64) string {
	if n == 1 {
		return unit
	}
	if unit == "penny" {
		return "pence"
	}
	return unit + "s"
}

var percentEN = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// VerbalizePercentEN rewrites "42%" to "forty-two percent".
func VerbalizePercentEN() Transform {
	return BufferedRegex(percentEN, func(m string) string {
		num := strings.TrimSpace(strings.TrimSuffix(m, "%"))
		return verbalizeDecimal(num, ".", "point", NumberWordsEN, onesEN) + " percent"
	})
}

var unitsEN = map[string]string{
	"km": "kilometers", "m": "meters", "cm": "centimeters", "mm": "millimeters",
	"kg": "kilograms", "g": "grams", "mg": "milligrams",
	"l": "liters", "ml": "milliliters",
}

var unitRE = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(km|cm|mm|kg|mg|ml|m|g|l)\b`)

// VerbalizeUnitsEN expands metric unit abbreviations after numbers.
func VerbalizeUnitsEN() Transform {
	return BufferedRegex(unitRE, func(m string) string {
		sub := unitRE.FindStringSubmatch(m)
		return sub[1] + " " + unitsEN[sub[2]]
	})
}

var monthsEN = []string{"January", "February", "March", "April", "May",
	"June", "July", "August", "September", "October", "November", "December"}

var ordinalsEN = map[int64]string{1: "first", 2: "second", 3: "third",
	5: "fifth", 8: "eighth", 9: "ninth", 12: "twelfth"}

// OrdinalWordsEN spells a small ordinal ("21" → "twenty-first").
func OrdinalWordsEN(n int64) string {
	if s, ok := ordinalsEN[n]; ok {
		return s
	}
	if n > 20 && n%10 != 0 {
		return tensEN[n/10] + "-" + OrdinalWordsEN(n%10)
	}
	w := NumberWordsEN(n)
	if strings.HasSuffix(w, "y") {
		return w[:len(w)-1] + "ieth"
	}
	return w + "th"
}

var dateEN = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b|\b(\d{4})-(\d{2})-(\d{2})\b`)

// VerbalizeDatesEN rewrites "12/24/2026" and "2026-12-24" to
// "December twenty-fourth 2026".
func VerbalizeDatesEN() Transform {
	return BufferedRegex(dateEN, func(m string) string {
		sub := dateEN.FindStringSubmatch(m)
		var month, day int64
		var year string
		if sub[1] != "" { // US order month/day/year
			month, _ = strconv.ParseInt(sub[1], 10, 64)
			day, _ = strconv.ParseInt(sub[2], 10, 64)
			year = sub[3]
		} else {
			year = sub[4]
			month, _ = strconv.ParseInt(sub[5], 10, 64)
			day, _ = strconv.ParseInt(sub[6], 10, 64)
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return m
		}
		return fmt.Sprintf("%s %s %s", monthsEN[month-1], OrdinalWordsEN(day), year)
	})
}

// ─── German ───

var onesDE = []string{"null", "eins", "zwei", "drei", "vier", "fünf",
	"sechs", "sieben", "acht", "neun", "zehn", "elf", "zwölf", "dreizehn",
	"vierzehn", "fünfzehn", "sechzehn", "siebzehn", "achtzehn", "neunzehn"}

var tensDE = []string{"", "", "zwanzig", "dreißig", "vierzig", "fünfzig",
	"sechzig", "siebzig", "achtzig", "neunzig"}

// NumberWordsDE spells a non-negative integer below one billion.
func NumberWordsDE(n int64) string {
	switch {
	case n < 0 || n >= 1_000_000_000:
		return strconv.FormatInt(n, 10)
	case n < 20:
		return onesDE[n]
	case n < 100:
		if n%10 == 0 {
			return tensDE[n/10]
		}
		unit := onesDE[n%10]
		if n%10 == 1 {
			unit = "ein"
		}
		return unit + "und" + tensDE[n/10]
	case n < 1000:
		prefix := onesDE[n/100]
		if n/100 == 1 {
			prefix = "ein"
		}
		s := prefix + "hundert"
		if n%100 != 0 {
			s += NumberWordsDE(n % 100)
		}
		return s
	case n < 1_000_000:
		prefix := NumberWordsDE(n / 1000)
		if n/1000 == 1 {
			prefix = "ein"
		}
		s := prefix + "tausend"
		if n%1000 != 0 {
			s += NumberWordsDE(n % 1000)
		}
		return s
	default:
		count := n / 1_000_000
		var s string
		if count == 1 {
			s = "eine Million"
		} else {
			s = NumberWordsDE(count) + " Millionen"
		}
		if n%1_000_000 != 0 {
			s += " " + NumberWordsDE(n%1_000_000)
		}
		return s
	}
}

var intDE = regexp.MustCompile(`\b\d{1,3}(?:\.\d{3})+\b|\b\d+\b`)

// VerbalizeNumbersDE spells bare integers as German words.
func VerbalizeNumbersDE() Transform {
	return BufferedRegex(intDE, func(m string) string {
		n, err := strconv.ParseInt(strings.ReplaceAll(m, ".", ""), 10, 64)
		if err != nil {
			return m
		}
		return NumberWordsDE(n)
	})
}

var currencyDE = regexp.MustCompile(`(\d+(?:\.\d{3})*)(?:,(\d{2}))?\s*(?:€|EUR)`)

// VerbalizeCurrencyDE rewrites "5,20 €" to "fünf Euro zwanzig Cent".
func VerbalizeCurrencyDE() Transform {
	return BufferedRegex(currencyDE, func(m string) string {
		sub := currencyDE.FindStringSubmatch(m)
		major, _ := strconv.ParseInt(strings.ReplaceAll(sub[1], ".", ""), 10, 64)
		out := NumberWordsDE(major) + " Euro"
		if sub[2] != "" {
			minor, _ := strconv.ParseInt(sub[2], 10, 64)
			if minor > 0 {
				out += " " + NumberWordsDE(minor) + " Cent"
			}
		}
		return out
	})
}

var percentDE = regexp.MustCompile(`(\d+(?:,\d+)?)\s*%`)

// VerbalizePercentDE rewrites "42 %" to "zweiundvierzig Prozent".
func VerbalizePercentDE() Transform {
	return BufferedRegex(percentDE, func(m string) string {
		num := strings.TrimSpace(strings.TrimSuffix(m, "%"))
		return verbalizeDecimal(num, ",", "Komma", NumberWordsDE, onesDE) + " Prozent"
	})
}

var unitsDE = map[string]string{
	"km": "Kilometer", "m": "Meter", "cm": "Zentimeter", "mm": "Millimeter",
	"kg": "Kilogramm", "g": "Gramm", "mg": "Milligramm",
	"l": "Liter", "ml": "Milliliter",
}

// VerbalizeUnitsDE expands metric unit abbreviations after numbers.
func VerbalizeUnitsDE() Transform {
	return BufferedRegex(unitRE, func(m string) string {
		sub := unitRE.FindStringSubmatch(m)
		return sub[1] + " " + unitsDE[sub[2]]
	})
}

var monthsDE = []string{"Januar", "Februar", "März", "April", "Mai", "Juni",
	"Juli", "August", "September", "Oktober", "November", "Dezember"}

// OrdinalWordsDE spells a small ordinal ("3" → "dritter").
func OrdinalWordsDE(n int64) string {
	switch n {
	case 1:
		return "erster"
	case 3:
		return "dritter"
	case 7:
		return "siebter"
	case 8:
		return "achter"
	}
	w := NumberWordsDE(n)
	if n < 20 {
		return w + "ter"
	}
	return w + "ster"
}

var dateDE = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)

// VerbalizeDatesDE rewrites "24.12.2026" to
// "vierundzwanzigster Dezember 2026".
func VerbalizeDatesDE() Transform {
	return BufferedRegex(dateDE, func(m string) string {
		sub := dateDE.FindStringSubmatch(m)
		day, _ := strconv.ParseInt(sub[1], 10, 64)
		month, _ := strconv.ParseInt(sub[2], 10, 64)
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return m
		}
		return fmt.Sprintf("%s %s %s", OrdinalWordsDE(day), monthsDE[month-1], sub[3])
	})
}

// verbalizeDecimal spells "3.5" as "three point five" (or the German
// equivalent), digit by digit after the separator.
func verbalizeDecimal(num, sep, sepWord string, words func(int64) string, digits []string) string {
	parts := strings.SplitN(num, sep, 2)
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return num
	}
	out := words(n)
	if len(parts) == 2 {
		out += " " + sepWord
		for _, r := range parts[1] {
			if r >= '0' && r <= '9' {
				out += " " + digits[r-'0']
			}
		}
	}
	return out
}
