package gemini

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"gradi/internal/recognition"
)

func reply(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}}}},
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{Model: "gemini-2.0-flash"}, nil); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestReadStudentIDParsesFencedJSON(t *testing.T) {
	var gotParts int
	r := newRecognizer(nil, func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		gotParts = len(parts)
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected call deadline")
		}
		return reply("```json\n{\"student_id\": \"20231234\"}\n```"), nil
	}, time.Second, nil)

	res := r.ReadStudentID(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if res.Failure != recognition.VisionOK || res.Text != "20231234" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Confidence != recognition.VisionConfidence {
		t.Fatalf("expected fixed confidence, got %v", res.Confidence)
	}
	if gotParts != 2 {
		t.Fatalf("expected prompt and image parts, got %d", gotParts)
	}
}

func TestReadStudentIDAbsorbsFailures(t *testing.T) {
	cases := map[string]struct {
		resp *genai.GenerateContentResponse
		err  error
		want recognition.VisionFailure
	}{
		"timeout":  {err: context.DeadlineExceeded, want: recognition.VisionTimeout},
		"error":    {err: errors.New("quota"), want: recognition.VisionNoResult},
		"empty":    {resp: &genai.GenerateContentResponse{}, want: recognition.VisionNoResult},
		"null id":  {resp: reply(`{"student_id": null}`), want: recognition.VisionNoResult},
		"not json": {resp: reply("I cannot read this"), want: recognition.VisionNoResult},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := newRecognizer(nil, func(context.Context, ...genai.Part) (*genai.GenerateContentResponse, error) {
				return tc.resp, tc.err
			}, time.Second, nil)
			res := r.ReadStudentID(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
			if res.Failure != tc.want || res.Text != "" {
				t.Fatalf("result = %+v, want failure %q", res, tc.want)
			}
		})
	}
}

func TestCloseNilClient(t *testing.T) {
	var r *Recognizer
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil recognizer: %v", err)
	}
}
