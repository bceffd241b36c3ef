package ai

import "fmt"

func systemPrompt(scene string) string {
	hint := "Scene: unknown"
	if scene != "" {
		hint = "Scene: " + scene
	}
	return "You are a professional speech transcription and meeting analysis assistant.\n" +
		"Output strict JSON only, no Markdown and no surrounding text.\n" +
		"Transcribe faithfully to the spoken wording; do not over-polish.\n" +
		hint
}

func transcribePrompt() string {
	return `Transcribe the attached audio and output strict JSON.
Field constraints:
- transcript.segments: array of { "id": number, "startTime": number, "speaker"?: string, "text": string }
- startTime is in seconds; approximate values are acceptable
Use "[inaudible]" as the text for passages you cannot recognize.
Output JSON shape: { "transcript": { "segments": [...] } }`
}

func analyzePrompt(transcript string) string {
	return fmt.Sprintf(`Analyze the transcript below and output strict JSON.
"summary" is 2-5 sentences; "todoList" is 0-8 concrete action items.
Output JSON shape: { "analysis": { "summary": "...", "todoList": ["..."] } }

Transcript:
%s`, transcript)
}
