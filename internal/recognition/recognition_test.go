package recognition_test

import (
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gradi/internal/events"
	"gradi/internal/recognition"
)

func newPage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestClientDetectRegionsAcceptsBothEnvelopes(t *testing.T) {
	bodies := []string{
		`{"boxes":[{"label":"text","score":0.9,"coordinate":[1,2,30,12]},{"label":"bad","coordinate":[1,2]}]}`,
		`{"res":{"boxes":[{"label":"text","score":0.9,"coordinate":[1,2,30,12]}]}}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/layout" || r.Header.Get("Content-Type") != "image/png" {
				t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Content-Type"))
			}
			_, _ = io.WriteString(w, body)
		}))
		client := recognition.NewClient(recognition.Config{BaseURL: srv.URL + "/"}, nil)
		regions := client.DetectRegions(context.Background(), newPage())
		srv.Close()
		if len(regions) != 1 {
			t.Fatalf("expected one valid region, got %+v", regions)
		}
		if regions[0].Label != "text" || regions[0].Box.X2 != 30 || regions[0].Box.Y1 != 2 {
			t.Fatalf("unexpected region: %+v", regions[0])
		}
	}
}

func TestClientRecognizeTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"rec_text":" 2O23l234 ","rec_score":0.91}`)
	}))
	defer srv.Close()

	client := recognition.NewClient(recognition.Config{BaseURL: srv.URL}, nil,
		recognition.WithSleeper(func(time.Duration) {}))
	got := client.RecognizeText(context.Background(), newPage())
	if got.Text != "2O23l234" || got.Confidence != 0.91 {
		t.Fatalf("unexpected text result: %+v", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestClientAbsorbsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := recognition.NewClient(recognition.Config{BaseURL: srv.URL}, nil)
	if regions := client.DetectRegions(context.Background(), newPage()); regions != nil {
		t.Fatalf("expected no regions, got %+v", regions)
	}
	if got := client.RecognizeText(context.Background(), newPage()); got != (recognition.TextResult{}) {
		t.Fatalf("expected zero text result, got %+v", got)
	}
	unconfigured := recognition.NewClient(recognition.Config{}, nil)
	if got := unconfigured.RecognizeText(context.Background(), newPage()); got.Text != "" {
		t.Fatalf("expected empty result without base url, got %+v", got)
	}
}

func TestClientRecognizeAnswersPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("expected multipart body, got %s", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("examCode") != "E1" || !strings.Contains(r.FormValue("questions"), `"questionNumber":1`) {
			t.Errorf("unexpected form values: %v", r.MultipartForm.Value)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("missing image part: %v", err)
		}
		_, _ = io.WriteString(w, `{"results":[{"questionNumber":1,"subQuestionNumber":0,"recAnswer":"3","confidence":0.95}]}`)
	}))
	defer srv.Close()

	meta := events.AnswerMetadata{ExamCode: "E1", Questions: []events.Question{{QuestionNumber: 1, Answer: "3"}}}
	got := recognition.NewClient(recognition.Config{BaseURL: srv.URL}, nil).RecognizeAnswers(context.Background(), newPage(), meta)
	if len(got) != 1 || got[0].RecAnswer != "3" || got[0].Confidence != 0.95 {
		t.Fatalf("unexpected answers: %+v", got)
	}
}

func TestCropClampsAndPads(t *testing.T) {
	page := newPage()
	crop := recognition.Crop(page, recognition.PadRect(recognition.BBox{X1: 1, Y1: 1, X2: 10.7, Y2: 10}, 2))
	if crop == nil {
		t.Fatal("expected crop")
	}
	if b := crop.Bounds(); b.Min.X != 0 || b.Min.Y != 0 || b.Max.X != 12 || b.Max.Y != 12 {
		t.Fatalf("unexpected crop bounds %v", b)
	}
	if recognition.Crop(page, image.Rect(200, 200, 300, 300)) != nil {
		t.Fatal("expected nil crop outside the image")
	}
}

func TestRegionClassification(t *testing.T) {
	cases := []struct {
		label      string
		table      bool
		identifier bool
	}{
		{"text", false, true},
		{"Table", true, false},
		{"table_caption", true, false},
		{"form", false, false},
		{"paragraph_title", false, true},
	}
	for _, tc := range cases {
		r := recognition.Region{Label: tc.label}
		if r.IsTable() != tc.table || r.IsIdentifierCandidate() != tc.identifier {
			t.Errorf("label %q: table=%v identifier=%v", tc.label, r.IsTable(), r.IsIdentifierCandidate())
		}
	}
}

func TestParseStudentIDReply(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"```json\n{\"student_id\": \"20231234\"}\n```", "20231234", false},
		{`prefix {"student_id": 20231234} suffix`, "20231234", false},
		{`{"studentId": "32204077"}`, "32204077", false},
		{`{"student_id": null}`, "", false},
		{"no json here", "", true},
		{"{broken", "", true},
	}
	for _, tc := range cases {
		got, err := recognition.ParseStudentIDReply(tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseStudentIDReply(%q) = %q, %v", tc.raw, got, err)
		}
	}
}
