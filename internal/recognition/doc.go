// Package recognition defines the boundary to the external inference
// backends: layout detection, text recognition, vision-language fallback and
// answer-sheet recognition.
//
// Every interface here is absorbing: implementations log their own failures
// and return an empty result instead of an error, so a flaky model can never
// abort message processing. Client is the HTTP implementation that talks to
// the inference sidecar; the gemini and openai sub-packages provide vision
// fallbacks.
package recognition
