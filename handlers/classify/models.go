package classify

// ClassificationRequest is the inbound JSON contract: one model name and a
// list of input texts classified independently.
type ClassificationRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ClassificationData struct {
	Index      int       `json:"index"`
	Label      string    `json:"label"`
	Probs      []float64 `json:"probs"`
	NumClasses int       `json:"num_classes"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type ClassificationResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Data    []ClassificationData `json:"data"`
	Usage   Usage                `json:"usage"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
