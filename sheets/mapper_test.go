package sheets

import (
	"reflect"
	"testing"
)

func TestMapFieldsExactMatch(t *testing.T) {
	res := MapFields(
		map[string]string{"Name": "A", "Email": "a@x.com"},
		[]string{"Name", "Email"},
		[]string{"Name", "Email"},
	)
	if len(res.UnmappedFields) != 0 {
		t.Fatalf("unexpected unmapped fields: %v", res.UnmappedFields)
	}
	if res.MappedData["Name"] != "A" || res.MappedData["Email"] != "a@x.com" {
		t.Errorf("unexpected mapping: %v", res.MappedData)
	}
}

func TestMapFieldsAliasPrecedence(t *testing.T) {
	// "name" hits the alias table (tier 2), "Email Address" is verbatim
	// (tier 1); no new columns either way.
	res := MapFields(
		map[string]string{"name": "A", "Email Address": "b@x.com"},
		[]string{"name", "Email Address"},
		[]string{"Full Name", "Email Address"},
	)
	if len(res.UnmappedFields) != 0 {
		t.Fatalf("unexpected unmapped fields: %v", res.UnmappedFields)
	}
	if res.MappedData["Full Name"] != "A" {
		t.Errorf(`"name" should map to "Full Name", got %v`, res.MappedData)
	}
	if res.MappedData["Email Address"] != "b@x.com" {
		t.Errorf("verbatim match lost: %v", res.MappedData)
	}
}

func TestMapFieldsCaseInsensitiveFallback(t *testing.T) {
	res := MapFields(
		map[string]string{"Email": "x"},
		[]string{"Email"},
		[]string{"email"},
	)
	if len(res.UnmappedFields) != 0 {
		t.Fatalf("unexpected unmapped fields: %v", res.UnmappedFields)
	}
	if res.MappedData["email"] != "x" {
		t.Errorf("case-insensitive match failed: %v", res.MappedData)
	}
}

func TestMapFieldsUnmappedKeepPayloadOrder(t *testing.T) {
	res := MapFields(
		map[string]string{"Name": "A", "CustomField": "123", "Other": "y"},
		[]string{"Name", "CustomField", "Other"},
		[]string{"Name"},
	)
	want := []string{"CustomField", "Other"}
	if !reflect.DeepEqual(res.UnmappedFields, want) {
		t.Fatalf("unmapped = %v, want %v", res.UnmappedFields, want)
	}
	// Unmapped values surface under their original field names.
	if res.MappedData["CustomField"] != "123" || res.MappedData["Other"] != "y" {
		t.Errorf("unmapped values missing: %v", res.MappedData)
	}
}

func TestMapFieldsAliasFirstDeclaredWins(t *testing.T) {
	// Two payload keys resolve to the same concept; the first-declared one
	// takes the header, the other stays unmapped.
	res := MapFields(
		map[string]string{"name": "first", "Name": "second"},
		[]string{"name", "Name"},
		[]string{"Full Name"},
	)
	if res.MappedData["Full Name"] != "first" {
		t.Errorf("first-declared field should win: %v", res.MappedData)
	}
	if !reflect.DeepEqual(res.UnmappedFields, []string{"Name"}) {
		t.Errorf("unmapped = %v, want [Name]", res.UnmappedFields)
	}
}

func TestTimestampColumn(t *testing.T) {
	cases := []struct {
		headers []string
		want    int
	}{
		{[]string{"Name", "Submitted At"}, 1},
		{[]string{"Timestamp", "Name"}, 0},
		{[]string{"Name", "Email"}, -1},
		// More than one timestamp-looking header disables the overwrite.
		{[]string{"Created", "Date"}, -1},
		{[]string{}, -1},
	}
	for _, tc := range cases {
		if got := TimestampColumn(tc.headers); got != tc.want {
			t.Errorf("TimestampColumn(%v) = %d, want %d", tc.headers, got, tc.want)
		}
	}
}
