package events_test

import (
	"encoding/json"
	"strings"
	"testing"

	"gradi/internal/events"
)

func TestDecodeInboundAcceptsBothSchemas(t *testing.T) {
	cases := map[string]string{
		"canonical": `{"eventType":"STUDENT_ID_RECOGNITION","examCode":"E1","filename":"p1.jpg","downloadUrl":"https://x/p1.jpg","extra":true}`,
		"later":     `{"eventType":"STUDENT_ID_RECOGNITION","examCode":"E1","fileName":"p1.jpg","imageUrl":"https://x/p1.jpg","index":3,"total":10}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := events.DecodeInbound([]byte(body))
			if err != nil {
				t.Fatalf("DecodeInbound: %v", err)
			}
			if msg.EventType != events.StudentIDRecognition || msg.ExamCode != "E1" {
				t.Fatalf("unexpected header fields: %+v", msg)
			}
			if msg.Filename != "p1.jpg" || msg.DownloadURL != "https://x/p1.jpg" {
				t.Fatalf("unexpected reference fields: %+v", msg)
			}
			if msg.IsOwnResult() {
				t.Fatal("input message misclassified as own result")
			}
		})
	}
}

func TestDecodeInboundRejectsInvalidJSON(t *testing.T) {
	if _, err := events.DecodeInbound([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestIsOwnResult(t *testing.T) {
	res := events.NewResult("E1", "20231234", "p1.jpg", 1)
	body, err := res.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := events.DecodeInbound(body)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if !msg.IsOwnResult() {
		t.Fatal("expected own result to be detected")
	}

	other, _ := events.DecodeInbound([]byte(`{"eventType":"ANSWER_RECOGNITION","studentId":"20231234"}`))
	if other.IsOwnResult() {
		t.Fatal("answer recognition input must not be treated as own result")
	}
}

func TestResultEncodingShape(t *testing.T) {
	body, err := events.NewResult("E1", "", "p1.jpg", 4).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["studentId"] != events.UnknownStudentID {
		t.Fatalf("expected sentinel, got %v", decoded["studentId"])
	}
	if decoded["index"] != float64(4) || decoded["eventType"] != "STUDENT_ID_RECOGNITION" {
		t.Fatalf("unexpected body: %s", body)
	}
	if _, ok := decoded["meta"]; ok {
		t.Fatalf("meta should be omitted for plain results: %s", body)
	}

	if _, err := (events.Result{StudentID: "2023"}).Encode(); err == nil {
		t.Fatal("expected invalid identifier shape to be rejected")
	}
}

func TestRosterNotLoadedResult(t *testing.T) {
	res := events.NewRosterNotLoadedResult("E2", "p9.jpg", 5)
	if res.Index != -1 || res.StudentID != events.UnknownStudentID {
		t.Fatalf("unexpected result: %+v", res)
	}
	body, err := res.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(body), `"error":"ATTENDANCE_NOT_LOADED"`) || !strings.Contains(string(body), `"nack_count":5`) {
		t.Fatalf("unexpected meta: %s", body)
	}
}

func TestValidResultID(t *testing.T) {
	for id, want := range map[string]bool{
		"20231234":   true,
		"unknown_id": true,
		"2023123":    false,
		"202312345":  false,
		"2023123a":   false,
		"":           false,
	} {
		if got := events.ValidResultID(id); got != want {
			t.Fatalf("ValidResultID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestAnswerMetadataHelpers(t *testing.T) {
	raw := `{"examCode":"E1","questions":[{"questionNumber":1,"answer":"3","point":5},{"questionNumber":2,"subQuestionNumber":1,"answer":"1"}],"images":[{"fileName":"a.jpg","studentId":"20231234"},{"filename":"b.jpg","studentId":"20239999"},{"fileName":"c.jpg"}]}`
	meta, err := events.DecodeAnswerMetadata([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeAnswerMetadata: %v", err)
	}
	if string(meta.Raw) != raw {
		t.Fatal("expected raw bytes to be retained")
	}
	fm := meta.FallbackMap()
	if len(fm) != 2 || fm["a.jpg"] != "20231234" || fm["b.jpg"] != "20239999" {
		t.Fatalf("unexpected fallback map: %v", fm)
	}
	if q, ok := meta.Lookup(1, 2); !ok || q.Answer != "3" {
		t.Fatalf("expected sub-number fallback to the question, got %+v %v", q, ok)
	}
	if q, ok := meta.Lookup(2, 1); !ok || q.Answer != "1" {
		t.Fatalf("expected exact sub question, got %+v %v", q, ok)
	}
	if _, ok := meta.Lookup(9, 0); ok {
		t.Fatal("expected missing question")
	}
}

func TestAnswerResultIsOwnResult(t *testing.T) {
	body, err := events.NewAnswerResult("E1", "20231234", "p1.jpg").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(body), `"answers":[]`) || !strings.Contains(string(body), `"total":100`) {
		t.Fatalf("unexpected answer result body: %s", body)
	}
	msg, err := events.DecodeInbound(body)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if !msg.IsOwnResult() {
		t.Fatal("expected published answer result to be detected as own output")
	}
}

func TestMetadataNotLoadedResult(t *testing.T) {
	res := events.NewMetadataNotLoadedResult("E1", "", "p1.jpg")
	if res.Status != events.AnswerStatusFailed || res.Error != events.ErrorAnswerMetadataNotLoaded || res.StudentID != events.UnknownStudentID {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := (events.AnswerResult{StudentID: "123"}).Encode(); err == nil {
		t.Fatal("expected invalid studentId to be rejected")
	}
}
