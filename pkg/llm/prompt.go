package llm

import (
	"crypto/sha256"
	"encoding/hex"
)

// systemPrompt pins the output schema. Any change to this text changes the
// prompt fingerprint recorded in job meta, so cached results are never
// mistaken for output of a different prompt.
const systemPrompt = `You are an extraction engine for tuition assignment postings from Singapore tuition agencies. Given one posting, return a single JSON object with exactly these fields:

- assignment_code: string or null. The agency's identifier for this posting (e.g. "A123", "TJ-4021"). Never a 6-digit postal code.
- academic_display_text: string or null. A short display line combining level and subject (e.g. "Sec 3 Physics").
- learning_mode: object {"mode": "Online" | "Face-to-Face" | "Hybrid" | null}.
- address: array of strings. Street or block addresses as written.
- postal_code: array of strings. 6-digit Singapore postal codes stated in the text.
- nearest_mrt: array of strings. MRT station names mentioned as nearby.
- lesson_schedule: array of strings. Verbatim schedule snippets (e.g. "2x weekly, 1.5h").
- start_date: string or null. When lessons should start, as written.
- lessons_per_week: number or null.
- hours_per_lesson: number or null.
- time_availability: object {"explicit": {}, "estimated": {}, "note": null}. Leave empty; availability is derived separately.
- subjects: array of strings (e.g. ["Physics", "A Math"]).
- student_levels: array of strings. Broad bands (e.g. ["Secondary"]).
- specific_levels: array of strings. Exact levels (e.g. ["Sec 3"]).
- rate: object {"min": number or null, "max": number or null, "raw_text": string or null}. raw_text is the rate phrase verbatim. If the rate asks tutors to quote, set min and max to null.
- tutor_types: array of strings. Requested tutor categories as written.
- additional_remarks: string or null. Only text following an explicit remarks/note marker, copied verbatim.

Rules: copy values from the posting, never invent. Use null for absent scalars and [] for absent lists. Respond with the JSON object only, no prose, no code fences.`

// confirmPrompt asks for identifier candidates in a compilation message.
const confirmPrompt = `The following message may bundle several tuition assignments. List every assignment identifier code that appears in it (short codes like "A123" or "TJ-4021", never 6-digit postal codes, never phone numbers). Respond with a JSON array of strings, copied verbatim from the message, no prose.`

var promptFingerprint = fingerprint(systemPrompt)

// fingerprint is the first 12 hex chars of the SHA-256 of the prompt text.
func fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:12]
}

// PromptFingerprint identifies the active extraction prompt.
func PromptFingerprint() string {
	return promptFingerprint
}
