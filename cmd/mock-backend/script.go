package main

import "strings"

// chunk is one unit of scripted output. At most one field is set.
type chunk struct {
	reasoning string
	text      string
	call      *scriptedCall
}

type scriptedCall struct {
	id        string
	name      string
	arguments string
}

// script is the complete output for one request.
type script struct {
	fail         bool
	chunks       []chunk
	finish       string // "stop", "length" or "tool_calls"
	promptTokens int
}

func (s script) completionTokens() int {
	return len(s.chunks)
}

// text returns the concatenated visible text.
func (s script) text() string {
	var b strings.Builder
	for _, c := range s.chunks {
		b.WriteString(c.text)
	}
	return b.String()
}

func (s script) reasoning() string {
	var b strings.Builder
	for _, c := range s.chunks {
		b.WriteString(c.reasoning)
	}
	return b.String()
}

func (s script) calls() []*scriptedCall {
	var out []*scriptedCall
	for _, c := range s.chunks {
		if c.call != nil {
			out = append(out, c.call)
		}
	}
	return out
}

func textChunks(parts ...string) []chunk {
	out := make([]chunk, len(parts))
	for i, p := range parts {
		out[i] = chunk{text: p}
	}
	return out
}

// plan picks the script for a request from its last user message and the
// names of the offered tools.
func plan(lastUser string, tools []string, messages int) script {
	msg := strings.ToLower(lastUser)
	s := script{finish: "stop", promptTokens: 8 * messages}

	switch {
	case strings.Contains(msg, "fail"):
		s.fail = true
	case len(tools) > 0:
		args := `{}`
		if tools[0] == "get_weather" {
			args = `{"location":"San Francisco","unit":"celsius"}`
		}
		s.chunks = []chunk{{call: &scriptedCall{id: "call_mock_1", name: tools[0], arguments: args}}}
		s.finish = "tool_calls"
	case strings.Contains(msg, "think"):
		s.chunks = append([]chunk{{reasoning: "The user wants "}, {reasoning: "a short answer."}},
			textChunks("Done", " thinking", ".")...)
	case strings.Contains(msg, "count from 1 to 5"):
		s.chunks = textChunks("1", ", ", "2", ", ", "3", ", ", "4", ", ", "5")
	case strings.Contains(msg, "long story"):
		s.chunks = textChunks("Once", " upon", " a", " time")
		s.finish = "length"
	default:
		s.chunks = textChunks("Hello", ", ", "nice", " ", "day", "!")
	}
	return s
}
