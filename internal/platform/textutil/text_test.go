package textutil

import (
	"net/url"
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" txnid ": " txn_1 ",
			"status":  " success ",
			"udf1":    " ",
			" ":       "ignored",
		}
		expected := map[string]string{
			"txnid":  "txn_1",
			"status": "success",
			"udf1":   "",
		}
		if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}

func TestFlattenValues(t *testing.T) {
	values := url.Values{"txnid": {" txn_1 ", "txn_2"}, "hash": {"abc"}, "empty": {}}
	expected := map[string]string{"txnid": "txn_1", "hash": "abc"}
	if actual := FlattenValues(values); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %#v got %#v", expected, actual)
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("FR202401010001", "") {
		t.Fatal("empty needle should match")
	}
	if !ContainsFold("Asha@Example.com", "example") {
		t.Fatal("expected case-insensitive match")
	}
	if ContainsFold("Asha", "ravi") {
		t.Fatal("unexpected match")
	}
}

func TestNewPlainTextSanitizer(t *testing.T) {
	sanitize := NewPlainTextSanitizer()
	cases := []struct {
		in   string
		want string
	}{
		{in: "  plain note ", want: "plain note"},
		{in: "<script>alert(1)</script>leave at door", want: "leave at door"},
		{in: "<b>fragile</b> & handle with care", want: "fragile & handle with care"},
		{in: "", want: ""},
		{in: `<a href="javascript:x()">call</a> first`, want: "call first"},
	}
	for _, tc := range cases {
		if got := sanitize(tc.in); got != tc.want {
			t.Fatalf("sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
