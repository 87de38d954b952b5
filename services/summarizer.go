package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"audio-converter/models"
)

// FileNameMarker prefixes the first line of a summary response.
const FileNameMarker = "File Name:"

const summaryPromptTemplate = `You are a professional summarization AI. Your task is to analyze a given transcript and generate a **concise, professional summary** in **markdown format** along with a file name derived from the summary title.

### **Instructions:**
- **Title:** Create a clear, informative title for the summary.
- **File Name:** Generate a file name based on the summary title. The file name should be all lowercase and use underscores instead of spaces.
- **Summary:** Provide a structured summary that captures key points.
- Use **headings, bullet points, or numbered lists** if the transcript is long or complex to improve readability.
- **Do not include** filler phrases like "Here is the summary" or any introductory/explanatory text.
- **Output strictly in markdown format.**

### **Output Format:**
File Name: [Generated File Name]
# Summary: [Title]
[Summary]

### **Example Output**
File Name: team_strategy_meeting_q2_goals.md
# Summary: Team Strategy Meeting - Q2 Goals

## Key Discussion Points
- **Sales Performance:** The team reviewed Q1 numbers, showing a **15 percent increase in revenue**.
- **Marketing Strategy:** Focus on **social media outreach** and **email campaigns** to improve engagement.
- **Action Items:**
1. Finalize Q2 marketing budget.
2. Conduct user feedback survey.

Here is the input transcript:
%s
`

// Summary is the parsed model response. DerivedName is empty when the
// response did not start with the file name marker.
type Summary struct {
	DerivedName string
	Body        string
}

// BuildSummaryPrompt embeds the transcript in the fixed instruction template.
func BuildSummaryPrompt(transcript string) string {
	return fmt.Sprintf(summaryPromptTemplate, transcript)
}

// ParseSummary splits a model response into derived file name and body.
func ParseSummary(response string) Summary {
	lines := strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], FileNameMarker) {
		return Summary{
			DerivedName: strings.TrimSpace(strings.TrimPrefix(lines[0], FileNameMarker)),
			Body:        strings.TrimSpace(strings.Join(lines[1:], "\n")),
		}
	}
	return Summary{Body: response}
}

// SummaryService calls an OpenAI-compatible chat completions endpoint. Each
// summary is exactly one request; there is no retry and no streaming.
type SummaryService struct {
	gatewayURL string
	apiKey     string
	model      string
	client     *http.Client
}

func NewSummaryService(gatewayURL, apiKey, model string) *SummaryService {
	return &SummaryService{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		model:      model,
		client: newHTTPClient(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *SummaryService) Summarize(ctx context.Context, transcript string) (Summary, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       s.model,
		Messages:    []chatMessage{{Role: "user", Content: BuildSummaryPrompt(transcript)}},
		Temperature: 0.2,
	})
	if err != nil {
		return Summary{}, models.StageErrorf(models.KindSummarization, "encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return Summary{}, models.StageErrorf(models.KindSummarization, "failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Summary{}, models.StageErrorf(models.KindSummarization, "llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Summary{}, models.StageErrorf(models.KindSummarization, "read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Summary{}, models.StageErrorf(models.KindSummarization, "llm returned status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Summary{}, models.StageErrorf(models.KindSummarization, "json decode error: %v body=%s", err, truncate(body, 512))
	}
	if len(parsed.Choices) == 0 {
		return Summary{}, models.StageErrorf(models.KindSummarization, "llm response has no choices")
	}

	return ParseSummary(parsed.Choices[0].Message.Content), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
