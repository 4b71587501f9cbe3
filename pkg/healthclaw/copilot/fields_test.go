package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		args map[string]string
		rest string
	}{
		{"pairs", "steps=8000 sleep_hours=7.5", map[string]string{"steps": "8000", "sleep_hours": "7.5"}, ""},
		{"colon with space", "weight: 60 height:170", map[string]string{"weight": "60", "height": "170"}, ""},
		{"quoted value", `name="Ann Lee" occupation=nurse`, map[string]string{"name": "Ann Lee", "occupation": "nurse"}, ""},
		{"keys normalized", "Sleep-Hours=6", map[string]string{"sleep_hours": "6"}, ""},
		{"remainder kept", "2025-03-01 please", map[string]string{}, "2025-03-01 please"},
		{"commas split", "steps=100,active=20", map[string]string{"steps": "100", "active": "20"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, rest := ParseArgs(tt.in)
			assert.Equal(t, tt.args, args)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestBuildChangeSet(t *testing.T) {
	t.Parallel()

	cs, errs := BuildChangeSet(map[string]string{
		"name":   "Ann",
		"kg":     "60",
		"height": "165cm",
		"steps":  "8,000",
		"sleep":  "7",
		"sex":    "F",
		"date":   "2025-03-01",
		"source": "watch",
	}, today)
	require.Empty(t, errs)

	assert.Equal(t, "2025-03-01", cs.Date)
	assert.Equal(t, "Ann", *cs.Profile.Name)
	assert.Equal(t, "female", *cs.Profile.Gender)
	assert.InDelta(t, 60.0, *cs.Body.Weight, 0.001)
	assert.InDelta(t, 165.0, *cs.Body.Height, 0.001)
	assert.Equal(t, 8000, *cs.Activity.Steps)
	assert.InDelta(t, 7.0, *cs.Activity.SleepHours, 0.001)
	assert.Equal(t, "watch", *cs.Activity.Source)
	assert.Nil(t, cs.Activity.AvgHeartRate, "unset fields stay nil")
}

func TestBuildChangeSet_Errors(t *testing.T) {
	t.Parallel()

	cs, errs := BuildChangeSet(map[string]string{
		"weight": "heavy",
		"steps":  "-5",
		"dob":    "01/02/1990",
		"mood":   "great",
		"date":   "tomorrow",
		"name":   "",
	}, today)

	keys := make([]string, 0, len(errs))
	for _, e := range errs {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{"weight", "steps", "dob", "mood", "date"}, keys)
	assert.True(t, cs.Empty())
	assert.Equal(t, today, cs.Date)
}

func TestDescribeChanges(t *testing.T) {
	t.Parallel()

	got := DescribeChanges(database.ChangeSet{
		Date:     today,
		Profile:  database.UserPatch{Name: ptr("Ann")},
		Activity: database.ActivityPatch{Steps: ptr(8000)},
	})
	assert.Equal(t, "• Name: Ann\n• Steps: 8000\n• Date: 2025-03-14", got)

	// Profile-only changes carry no date line.
	got = DescribeChanges(database.ChangeSet{Date: today, Profile: database.UserPatch{Occupation: ptr("Engineer")}})
	assert.Equal(t, "• Occupation: Engineer", got)
}

func TestMatchApproval(t *testing.T) {
	t.Parallel()

	tests := map[string]Decision{
		"yes":                      DecisionConfirm,
		"Yes!":                     DecisionConfirm,
		"ok, save it":              DecisionConfirm,
		"ใช่":                      DecisionConfirm,
		"no":                       DecisionReject,
		"no, don't save":           DecisionReject,
		"cancel":                   DecisionReject,
		"ยกเลิก":                   DecisionReject,
		"":                         DecisionNone,
		"yesterday I walked a lot": DecisionNone,
		"how many steps should I walk each day to stay healthy": DecisionNone,
	}
	for in, want := range tests {
		assert.Equal(t, want, matchApproval(in), "input %q", in)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cmd, ok := ParseCommand("/Summary")
	assert.True(t, ok)
	assert.Equal(t, CommandSummary, cmd)

	cmd, ok = ParseCommand("update-user")
	assert.True(t, ok)
	assert.Equal(t, CommandUpdateUser, cmd)

	_, ok = ParseCommand("/dance")
	assert.False(t, ok)
}

func TestBMI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Underweight", BMICategory(17))
	assert.Equal(t, "Normal weight", BMICategory(22))
	assert.Equal(t, "Overweight", BMICategory(27))
	assert.Equal(t, "Obese", BMICategory(31))
	assert.Equal(t, "Unknown", BMICategory(0))

	assert.Empty(t, DescribeBMI(nil))
	assert.Empty(t, DescribeBMI(&database.BodyRecord{Weight: ptr(60.0)}))
	assert.Equal(t, "22.0 (Normal weight)", DescribeBMI(&database.BodyRecord{Weight: ptr(60.0), Height: ptr(165.0)}))
}
