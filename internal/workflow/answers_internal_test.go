package workflow

import (
	"reflect"
	"testing"

	"gradi/internal/events"
)

func TestIntegersIn(t *testing.T) {
	cases := map[string][]int{
		"":          {},
		"3":         {3},
		"1, 2":      {1, 2},
		"A12b007":   {12, 7},
		"no digits": {},
	}
	for in, want := range cases {
		if got := integersIn(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("integersIn(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAnswerStudentID(t *testing.T) {
	meta := events.AnswerMetadata{Images: []events.ImageMapping{{FileName: "p2.png", StudentID: "20239999"}, {FileName: "bad.png", StudentID: "x"}}}
	cases := []struct {
		carried, file, want string
	}{
		{"20231234", "p2.png", "20231234"},
		{"unknown_id", "p2.png", "20239999"},
		{"", "p2.png", "20239999"},
		{"", "bad.png", events.UnknownStudentID},
		{"123", "other.png", events.UnknownStudentID},
	}
	for _, tc := range cases {
		if got := answerStudentID(tc.carried, tc.file, meta); got != tc.want {
			t.Fatalf("answerStudentID(%q, %q) = %q, want %q", tc.carried, tc.file, got, tc.want)
		}
	}
}

func TestGroupIDReplacesSpaces(t *testing.T) {
	if got := groupID(" MID 2024 "); got != "MID_2024" {
		t.Fatalf("groupID = %q", got)
	}
}
