package reminder

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    OffsetKind
		wantErr bool
	}{
		{in: "one_hour", want: OneHour},
		{in: "ONE_DAY", want: OneDay},
		{in: "OneWeek", want: OneWeek},
		{in: "1d", want: OneDay},
		{in: " 1W ", want: OneWeek},
		{in: "one_month", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOffset(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseOffset(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseOffset(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestOffsetCatalog(t *testing.T) {
	t.Parallel()
	if OneHour.Duration() != time.Hour || OneDay.Duration() != 24*time.Hour || OneWeek.Duration() != 168*time.Hour {
		t.Fatal("unexpected durations")
	}
	if OneDay.Label() != "1 Day Before" || OneWeek.Name() != "ONE_WEEK" || OneHour.Code() != "one_hour" {
		t.Fatal("unexpected codes")
	}
	if OffsetKind(9).Valid() {
		t.Fatal("9 should be invalid")
	}
}

func TestOffsetJSON(t *testing.T) {
	t.Parallel()
	var got []OffsetKind
	if err := json.Unmarshal([]byte(`["one_week","1h"]`), &got); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(NormalizeOffsets(got))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["one_hour","one_week"]` {
		t.Fatalf("got %s", b)
	}
}

func TestTriggerTimeAndIsPast(t *testing.T) {
	t.Parallel()
	target := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	if got := TriggerTime(target, OneWeek); !got.Equal(time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("TriggerTime = %v", got)
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if IsPast(now, now) {
		t.Fatal("equal instant is not past")
	}
	if !IsPast(now.Add(-time.Nanosecond), now) {
		t.Fatal("earlier instant is past")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ok := CreateRequest{RecipientContact: "x", TaskDescription: "y", TargetAt: now.Add(time.Hour), Offsets: []OffsetKind{OneHour}}

	tests := []struct {
		name  string
		mut   func(r *CreateRequest)
		field string
	}{
		{name: "valid", mut: func(*CreateRequest) {}},
		{name: "past", mut: func(r *CreateRequest) { r.TargetAt = now }, field: "target_at"},
		{name: "far future", mut: func(r *CreateRequest) { r.TargetAt = time.Date(2300, 1, 1, 12, 0, 0, 0, time.UTC) }},
		{name: "beyond year 9999", mut: func(r *CreateRequest) { r.TargetAt = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC) }, field: "target_at"},
		{name: "contact", mut: func(r *CreateRequest) { r.RecipientContact = "  " }, field: "recipient_contact"},
		{name: "description", mut: func(r *CreateRequest) { r.TaskDescription = "" }, field: "task_description"},
		{name: "no offsets", mut: func(r *CreateRequest) { r.Offsets = nil }, field: "offsets"},
		{name: "bad offset", mut: func(r *CreateRequest) { r.Offsets = []OffsetKind{42} }, field: "offsets"},
	}
	for _, tt := range tests {
		req := ok
		tt.mut(&req)
		_, err := Validate(req, now)
		if tt.field == "" {
			if err != nil {
				t.Fatalf("%s: unexpected %v", tt.name, err)
			}
			continue
		}
		ve, isVE := err.(*ValidationError)
		if !isVE || ve.Field != tt.field {
			t.Fatalf("%s: err = %v, want field %s", tt.name, err, tt.field)
		}
	}
}
