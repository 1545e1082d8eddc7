package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

func TestParseRecordPlain(t *testing.T) {
	record, err := ParseRecord(`{"assignment_code": "A123", "subjects": ["Math"]}`)
	require.NoError(t, err)
	assert.Equal(t, "A123", record["assignment_code"])
}

func TestParseRecordFenced(t *testing.T) {
	content := "```json\n{\"assignment_code\": \"A123\"}\n```"
	record, err := ParseRecord(content)
	require.NoError(t, err)
	assert.Equal(t, "A123", record["assignment_code"])
}

func TestParseRecordSurroundingProse(t *testing.T) {
	content := `Here is the extraction: {"subjects": ["Physics"]} hope that helps!`
	record, err := ParseRecord(content)
	require.NoError(t, err)
	assert.Equal(t, []any{"Physics"}, record["subjects"])
}

func TestParseRecordThinkBlocks(t *testing.T) {
	content := "<think>the posting mentions physics</think>{\"subjects\": [\"Physics\"]}"
	record, err := ParseRecord(content)
	require.NoError(t, err)
	assert.Contains(t, record, "subjects")
}

func TestParseRecordRepairsTrailingCommas(t *testing.T) {
	record, err := ParseRecord(`{"subjects": ["Math", "Science",], "rate": {"min": 40,},}`)
	require.NoError(t, err)
	assert.Equal(t, []any{"Math", "Science"}, record["subjects"])
}

func TestParseRecordNoObject(t *testing.T) {
	_, err := ParseRecord("sorry, I cannot extract that")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMInvalidJSON, pipeline.KindOf(err))
}

func TestParseRecordUnrepairable(t *testing.T) {
	_, err := ParseRecord(`{"subjects": [unquoted]}`)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMInvalidJSON, pipeline.KindOf(err))
}

func TestParseStringArray(t *testing.T) {
	ids, err := ParseStringArray("```\n[\"A101\", \"A102\", 42, \"A103\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"A101", "A102", "A103"}, ids)
}

func TestParseStringArrayNoArray(t *testing.T) {
	_, err := ParseStringArray("no identifiers found")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMInvalidJSON, pipeline.KindOf(err))
}

func TestPromptFingerprintStable(t *testing.T) {
	fp := PromptFingerprint()
	assert.Len(t, fp, 12)
	assert.Equal(t, fp, PromptFingerprint())
	assert.Regexp(t, "^[0-9a-f]{12}$", fp)
}
