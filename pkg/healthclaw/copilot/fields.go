package copilot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// dateLayout is the calendar-date format used for every record key.
const dateLayout = "2006-01-02"

// field describes one user-settable value and how it lands in a ChangeSet.
type field struct {
	key     string
	label   string
	aliases []string
	set     func(cs *database.ChangeSet, raw string) error
	get     func(cs *database.ChangeSet) (string, bool)
}

var fields = []field{
	strField("name", "Name", nil, func(cs *database.ChangeSet) **string { return &cs.Profile.Name }),
	{
		key: "dob", label: "Date of birth", aliases: []string{"birthday", "birthdate"},
		set: func(cs *database.ChangeSet, raw string) error {
			if _, err := time.Parse(dateLayout, raw); err != nil {
				return fmt.Errorf("expected YYYY-MM-DD")
			}
			cs.Profile.DOB = &raw
			return nil
		},
		get: func(cs *database.ChangeSet) (string, bool) { return deref(cs.Profile.DOB) },
	},
	{
		key: "gender", label: "Gender", aliases: []string{"sex"},
		set: func(cs *database.ChangeSet, raw string) error {
			g := normalizeGender(raw)
			cs.Profile.Gender = &g
			return nil
		},
		get: func(cs *database.ChangeSet) (string, bool) { return deref(cs.Profile.Gender) },
	},
	strField("occupation", "Occupation", []string{"job"}, func(cs *database.ChangeSet) **string { return &cs.Profile.Occupation }),
	strField("description", "About", []string{"about", "bio"}, func(cs *database.ChangeSet) **string { return &cs.Profile.Description }),
	strField("chronic_disease", "Chronic conditions", []string{"chronic", "condition", "conditions"},
		func(cs *database.ChangeSet) **string { return &cs.Profile.ChronicDisease }),
	floatField("weight", "Weight (kg)", []string{"kg"}, 1, 500, func(cs *database.ChangeSet) **float64 { return &cs.Body.Weight }),
	floatField("height", "Height (cm)", []string{"cm"}, 30, 300, func(cs *database.ChangeSet) **float64 { return &cs.Body.Height }),
	intField("steps", "Steps", []string{"step"}, 0, 200000, func(cs *database.ChangeSet) **int { return &cs.Activity.Steps }),
	floatField("calories_burned", "Calories burned", []string{"calories", "kcal"}, 0, 20000,
		func(cs *database.ChangeSet) **float64 { return &cs.Activity.CaloriesBurned }),
	intField("avg_heart_rate", "Average heart rate", []string{"heart_rate", "hr", "bpm"}, 20, 250,
		func(cs *database.ChangeSet) **int { return &cs.Activity.AvgHeartRate }),
	intField("active_minutes", "Active minutes", []string{"active"}, 0, 1440,
		func(cs *database.ChangeSet) **int { return &cs.Activity.ActiveMinutes }),
	floatField("sleep_hours", "Sleep (hours)", []string{"sleep"}, 0, 24, func(cs *database.ChangeSet) **float64 { return &cs.Activity.SleepHours }),
	strField("source", "Source", []string{"device"}, func(cs *database.ChangeSet) **string { return &cs.Activity.Source }),
}

var fieldIndex = func() map[string]*field {
	m := make(map[string]*field)
	for i := range fields {
		f := &fields[i]
		m[f.key] = f
		for _, a := range f.aliases {
			m[a] = f
		}
	}
	return m
}()

func strField(key, label string, aliases []string, ptr func(*database.ChangeSet) **string) field {
	return field{
		key: key, label: label, aliases: aliases,
		set: func(cs *database.ChangeSet, raw string) error {
			*ptr(cs) = &raw
			return nil
		},
		get: func(cs *database.ChangeSet) (string, bool) { return deref(*ptr(cs)) },
	}
}

func floatField(key, label string, aliases []string, lo, hi float64, ptr func(*database.ChangeSet) **float64) field {
	return field{
		key: key, label: label, aliases: aliases,
		set: func(cs *database.ChangeSet, raw string) error {
			v, err := strconv.ParseFloat(strings.TrimRight(raw, "kgcmhrs "), 64)
			if err != nil {
				return fmt.Errorf("expected a number")
			}
			if v < lo || v > hi {
				return fmt.Errorf("must be between %g and %g", lo, hi)
			}
			*ptr(cs) = &v
			return nil
		},
		get: func(cs *database.ChangeSet) (string, bool) {
			if p := *ptr(cs); p != nil {
				return strconv.FormatFloat(*p, 'f', -1, 64), true
			}
			return "", false
		},
	}
}

func intField(key, label string, aliases []string, lo, hi int, ptr func(*database.ChangeSet) **int) field {
	return field{
		key: key, label: label, aliases: aliases,
		set: func(cs *database.ChangeSet, raw string) error {
			v, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
			if err != nil {
				return fmt.Errorf("expected a whole number")
			}
			if v < lo || v > hi {
				return fmt.Errorf("must be between %d and %d", lo, hi)
			}
			*ptr(cs) = &v
			return nil
		},
		get: func(cs *database.ChangeSet) (string, bool) {
			if p := *ptr(cs); p != nil {
				return strconv.Itoa(*p), true
			}
			return "", false
		},
	}
}

func deref(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	return *p, true
}

func normalizeGender(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "m", "male", "man":
		return "male"
	case "f", "female", "woman":
		return "female"
	}
	return strings.TrimSpace(raw)
}

// FieldError reports one argument that could not be applied.
type FieldError struct {
	Key string
	Msg string
}

func (e FieldError) Error() string { return e.Key + ": " + e.Msg }

// BuildChangeSet converts named arguments into a ChangeSet. The "date" key
// selects the record date; it defaults to today. Unknown keys and invalid
// values are returned as FieldErrors and leave the ChangeSet untouched for
// that key.
func BuildChangeSet(args map[string]string, today string) (database.ChangeSet, []FieldError) {
	cs := database.ChangeSet{Date: today}
	var errs []FieldError

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw := strings.TrimSpace(args[k])
		key := normalizeKey(k)
		if raw == "" {
			continue
		}
		if key == "date" {
			if _, err := time.Parse(dateLayout, raw); err != nil {
				errs = append(errs, FieldError{Key: k, Msg: "expected YYYY-MM-DD"})
				continue
			}
			cs.Date = raw
			continue
		}
		f, ok := fieldIndex[key]
		if !ok {
			errs = append(errs, FieldError{Key: k, Msg: "unknown field"})
			continue
		}
		if err := f.set(&cs, raw); err != nil {
			errs = append(errs, FieldError{Key: k, Msg: err.Error()})
		}
	}
	return cs, errs
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "_", " ", "_").Replace(k)
}

// DescribeChanges renders the fields a ChangeSet would write, one per line.
func DescribeChanges(cs database.ChangeSet) string {
	var b strings.Builder
	for i := range fields {
		v, ok := fields[i].get(&cs)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "• %s: %s\n", fields[i].label, v)
	}
	if !cs.Body.Empty() || !cs.Activity.Empty() {
		fmt.Fprintf(&b, "• Date: %s\n", cs.Date)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseArgs splits `key=value` (or `key: value`) pairs. Values may be
// double-quoted to include spaces. Text that is not a pair is returned as
// the remainder.
func ParseArgs(text string) (map[string]string, string) {
	args := make(map[string]string)
	var rest []string

	tokens := tokenize(text)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		sep := strings.IndexAny(tok, "=:")
		if sep <= 0 {
			rest = append(rest, tok)
			continue
		}
		key, val := tok[:sep], tok[sep+1:]
		// "key: value" with the value in the next token.
		if val == "" && i+1 < len(tokens) {
			i++
			val = tokens[i]
		}
		args[normalizeKey(key)] = val
	}
	return args, strings.Join(rest, " ")
}

func tokenize(s string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	flush := func() {
		if started {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
		started = false
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case (unicode.IsSpace(r) || r == ',') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return tokens
}
