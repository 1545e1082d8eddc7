package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

var trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

// StripFences removes markdown code fences and <think> reasoning blocks so
// the payload underneath can be located.
func StripFences(s string) string {
	s = stripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func stripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// ParseRecord locates the outermost JSON object in content, repairs trailing
// commas if needed, and decodes it. Failures classify as llm_invalid_json.
func ParseRecord(content string) (map[string]any, error) {
	s := StripFences(content)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, pipeline.NewError(pipeline.KindLLMInvalidJSON, pipeline.StageLLM,
			"no JSON object in response: "+pipeline.Truncate(s))
	}
	candidate := s[start : end+1]

	var record map[string]any
	if err := json.Unmarshal([]byte(candidate), &record); err == nil {
		return record, nil
	}

	repaired := trailingCommaRegex.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(repaired), &record); err != nil {
		return nil, pipeline.Wrap(pipeline.KindLLMInvalidJSON, pipeline.StageLLM, err)
	}
	return record, nil
}

// ParseStringArray locates the outermost JSON array in content and returns
// its string elements, skipping anything that is not a string.
func ParseStringArray(content string) ([]string, error) {
	s := StripFences(content)

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return nil, pipeline.NewError(pipeline.KindLLMInvalidJSON, pipeline.StageLLM,
			"no JSON array in response: "+pipeline.Truncate(s))
	}
	candidate := trailingCommaRegex.ReplaceAllString(s[start:end+1], "$1")

	var out []string
	_, err := jsonparser.ArrayEach([]byte(candidate), func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if dataType == jsonparser.String {
			if v, err := jsonparser.ParseString(value); err == nil {
				out = append(out, v)
			}
		}
	})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindLLMInvalidJSON, pipeline.StageLLM, err)
	}
	return out, nil
}
