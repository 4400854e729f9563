package records

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidate_SkillCleansNumbers(t *testing.T) {
	in := Record{"name": "Go", "level": 3.0, "years": json.Number("2"), "category": "C1"}
	out, errs := Skill.Validate(in)
	require.Empty(t, errs)
	require.Equal(t, int64(3), out["level"])
	require.Equal(t, int64(2), out["years"])
	require.Equal(t, "Go", out["name"])
}

func TestValidate_ReportsMissingUnknownAndRange(t *testing.T) {
	_, errs := Skill.Validate(Record{"name": "Go", "level": 9, "colour": "red"})
	require.Equal(t, []FieldError{
		{"category", ReasonMissing},
		{"colour", ReasonUnknown},
		{"level", ReasonRange},
		{"years", ReasonMissing},
	}, errs)
}

func TestClean_TypeShapes(t *testing.T) {
	cases := []struct {
		def   *Definition
		field string
		value any
		want  string
	}{
		{Skill, "level", 2.5, ReasonInvalid},
		{Skill, "level", "3", ReasonInvalid},
		{Skill, "name", "", ReasonTooShort},
		{Static, "key", "abcdefghijklmnopq", ReasonTooLong},
		{Static, "key", "Not A Key", ReasonInvalid},
		{Experience, "url", "ftp://example.com", ReasonInvalid},
		{Experience, "from", "2024-13-01", ReasonInvalid},
		{Experience, "company", nil, ReasonInvalid},
	}
	for _, tc := range cases {
		_, errs := tc.def.Clean(Record{tc.field: tc.value})
		require.Equal(t, []FieldError{{tc.field, tc.want}}, errs, "%s.%s=%v", tc.def.Name, tc.field, tc.value)
	}

	out, errs := Experience.Clean(Record{"to": nil, "url": "https://example.com", "from": time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.Empty(t, errs)
	require.Nil(t, out["to"])
	require.Equal(t, "2020-01-02", out["from"])
}

func TestField_CleanRules(t *testing.T) {
	key, _ := Static.Field("key")
	_, reason := key.Clean(map[string]any{"$ne": ""})
	require.Equal(t, ReasonInvalid, reason)
	v, reason := key.Clean("about_me")
	require.Empty(t, reason)
	require.Equal(t, "about_me", v)

	name, _ := Skill.Field("name")
	_, reason = name.Clean("ééééééééééééééééééééééééééééééééééééééééééééééééééééééééééééééé")
	require.Empty(t, reason, "length counts runes")

	years, _ := Skill.Field("years")
	_, reason = years.Clean(-1)
	require.Equal(t, ReasonRange, reason)
	_, reason = years.Clean(json.Number("256"))
	require.Equal(t, ReasonRange, reason)

	url, _ := Experience.Field("url")
	_, reason = url.Clean("http://")
	require.Equal(t, ReasonInvalid, reason)
}

func TestClean_ParsesTimestamps(t *testing.T) {
	ts := time.Date(2024, 1, 23, 10, 0, 0, 0, time.UTC)
	out, errs := SkillCategory.Clean(Record{"_id": "x", "_created": ts.Format(time.RFC3339Nano), "name": "Lang"})
	require.Empty(t, errs)
	require.True(t, ts.Equal(out["_created"].(time.Time)))
	require.Equal(t, "x", out["_id"])
}

func TestDiff(t *testing.T) {
	current := Record{"name": "Go", "level": int64(3), "order": nil}
	require.Empty(t, Diff(current, Record{"name": "Go", "level": 3.0}))
	require.Empty(t, Diff(current, Record{"order": nil}))
	require.Empty(t, Diff(Record{}, Record{"order": nil}))
	require.Equal(t, Record{"level": int64(4)}, Diff(current, Record{"name": "Go", "level": int64(4)}))
	require.Equal(t, Record{"years": int64(1)}, Diff(current, Record{"years": int64(1)}))
}

func TestCompare(t *testing.T) {
	require.Equal(t, -1, Compare(nil, "a"))
	require.Equal(t, 0, Compare(int64(3), 3.0))
	require.Equal(t, 1, Compare(100, 50))
	require.Equal(t, -1, Compare("2020-01-01", "2021-01-01"))
	require.Equal(t, -1, Compare(5, "5"))
	require.True(t, Equal(json.Number("7"), int64(7)))
	require.False(t, Equal("7", int64(7)))
}

func TestFieldErrorJSON(t *testing.T) {
	b, err := json.Marshal([]FieldError{{"record.to", "bad"}})
	require.NoError(t, err)
	require.JSONEq(t, `[["record.to","bad"]]`, string(b))

	var back []FieldError
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, "record.to", back[0].Field)
}

func TestRecordHelpers(t *testing.T) {
	r := Record{"_id": "a", "_created": 1, "name": "x"}
	require.Equal(t, "a", r.ID())
	require.Equal(t, Record{"name": "x"}, r.Without(IDField, CreatedField))
	require.Equal(t, Record{"_id": "a", "_created": 1, "name": "y"}, r.Merge(Record{"name": "y"}))
	require.Equal(t, "x", r["name"])
	require.Equal(t, []string{"_id", "_created", "_updated", "name"}, SkillCategory.Columns())
}
