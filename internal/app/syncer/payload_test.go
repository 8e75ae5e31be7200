package syncer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func TestParseRefs(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    []string
		wantErr bool
	}{
		{name: "bare id", payload: `"d1"`, want: []string{"d1"}},
		{name: "object", payload: `{"id":"d1","name":"Board"}`, want: []string{"d1"}},
		{name: "mixed list", payload: `["d1",{"id":"d2"}]`, want: []string{"d1", "d2"}},
		{name: "empty list", payload: `[]`, want: []string{}},
		{name: "object without id", payload: `{"name":"x"}`, wantErr: true},
		{name: "number", payload: `42`, wantErr: true},
		{name: "list with bad element", payload: `["d1",{"name":"x"},"d3"]`, wantErr: true},
		{name: "list with null", payload: `["d1",null]`, wantErr: true},
		{name: "empty id", payload: `""`, wantErr: true},
		{name: "garbage", payload: `{`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			refs, err := ParseRefs(json.RawMessage(tc.payload))
			if tc.wantErr {
				gt.Error(t, err).Is(ErrParse)
				gt.Value(t, refs).Nil()
				return
			}
			gt.NoError(t, err).Required()
			ids := make([]string, 0, len(refs))
			for _, r := range refs {
				ids = append(ids, r.ID)
			}
			gt.Value(t, ids).Equal(tc.want)
		})
	}
}

func TestRef_Has(t *testing.T) {
	refs, err := ParseRefs(json.RawMessage(`[{"id":"m1","content":"hi","sender":null},"m2"]`))
	gt.NoError(t, err).Required()
	gt.Bool(t, refs[0].Has("content")).True()
	gt.Bool(t, refs[0].Has("sender")).False()
	gt.Bool(t, refs[1].Has("content")).False()
}

func TestParseServerTime(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)

	t.Run("date and time", func(t *testing.T) {
		v, dateOnly, ok, err := ParseServerTime(json.RawMessage(
			`{"dayOfMonth":3,"monthValue":6,"year":2024,"hour":18,"minute":30,"second":5,"nano":0}`), berlin)
		gt.NoError(t, err).Required()
		gt.Bool(t, ok).True()
		gt.Bool(t, dateOnly).False()
		gt.Value(t, v).Equal(time.Date(2024, 6, 3, 16, 30, 5, 0, time.UTC))
	})

	t.Run("date only", func(t *testing.T) {
		v, dateOnly, ok, err := ParseServerTime(json.RawMessage(`{"dayOfMonth":28,"monthValue":2,"year":1990}`), berlin)
		gt.NoError(t, err).Required()
		gt.Bool(t, ok).True()
		gt.Bool(t, dateOnly).True()
		gt.Value(t, v).Equal(time.Date(1990, 2, 28, 0, 0, 0, 0, time.UTC))
	})

	t.Run("string layout", func(t *testing.T) {
		v, _, ok, err := ParseServerTime(json.RawMessage(`"2024-06-03T18:30:05"`), time.UTC)
		gt.NoError(t, err).Required()
		gt.Bool(t, ok).True()
		gt.Value(t, v).Equal(time.Date(2024, 6, 3, 18, 30, 5, 0, time.UTC))
	})

	t.Run("null is absent", func(t *testing.T) {
		_, _, ok, err := ParseServerTime(json.RawMessage(`null`), time.UTC)
		gt.NoError(t, err)
		gt.Bool(t, ok).False()

		_, _, ok, err = ParseServerTime(nil, time.UTC)
		gt.NoError(t, err)
		gt.Bool(t, ok).False()
	})

	t.Run("missing year", func(t *testing.T) {
		_, _, _, err := ParseServerTime(json.RawMessage(`{"dayOfMonth":3,"monthValue":6}`), time.UTC)
		gt.Error(t, err).Is(ErrParse)
	})

	t.Run("bad month", func(t *testing.T) {
		_, _, _, err := ParseServerTime(json.RawMessage(`{"dayOfMonth":3,"monthValue":13,"year":2024}`), time.UTC)
		gt.Error(t, err).Is(ErrParse)
	})

	t.Run("day past end of month", func(t *testing.T) {
		for _, raw := range []string{
			`{"dayOfMonth":31,"monthValue":2,"year":2024}`,
			`{"dayOfMonth":29,"monthValue":2,"year":2023}`,
			`{"dayOfMonth":31,"monthValue":4,"year":2024,"hour":9}`,
		} {
			_, _, ok, err := ParseServerTime(json.RawMessage(raw), time.UTC)
			gt.Error(t, err).Is(ErrParse)
			gt.Bool(t, ok).False()
		}
	})

	t.Run("hour rolling into next day", func(t *testing.T) {
		_, _, _, err := ParseServerTime(json.RawMessage(`{"dayOfMonth":3,"monthValue":6,"year":2024,"hour":24}`), time.UTC)
		gt.Error(t, err).Is(ErrParse)
	})

	t.Run("leap day", func(t *testing.T) {
		v, _, _, err := ParseServerTime(json.RawMessage(`{"dayOfMonth":29,"monthValue":2,"year":2024}`), time.UTC)
		gt.NoError(t, err).Required()
		gt.Value(t, v).Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	})
}

func TestDiffSets(t *testing.T) {
	added, removed := DiffSets([]string{"d1", "d2", "d2"}, []string{"d3", "d2", "d3"})
	gt.Value(t, added).Equal([]string{"d3"})
	gt.Value(t, removed).Equal([]string{"d1"})

	added, removed = DiffSets([]string{"a", "b"}, []string{"b", "a"})
	gt.Array(t, added).Length(0)
	gt.Array(t, removed).Length(0)

	// added and removed never intersect.
	cur := []string{"a", "b", "c", "x"}
	next := []string{"x", "c", "d", "e", "e"}
	added, removed = DiffSets(cur, next)
	for _, a := range added {
		for _, r := range removed {
			gt.Value(t, a).NotEqual(r)
		}
	}
	gt.Value(t, added).Equal([]string{"d", "e"})
	gt.Value(t, removed).Equal([]string{"a", "b"})
}
