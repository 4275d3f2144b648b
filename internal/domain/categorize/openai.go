package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"finch/internal/domain/category"
)

const openAITimeout = 8 * time.Second

// OpenAI classifies via a chat-completion call that must return strict JSON.
// Like every Assistant it is advisory; callers swallow its errors.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed assistant. model may be empty to use
// the default.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

type openAIRequest struct {
	Description      string           `json:"description"`
	Merchant         string           `json:"merchant,omitempty"`
	ProviderCategory string           `json:"provider_category,omitempty"`
	Amount           float64          `json:"amount"`
	Categories       []openAICategory `json:"categories"`
}

type openAICategory struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Group         string              `json:"group"`
	Subcategories []openAISubcategory `json:"subcategories,omitempty"`
}

type openAISubcategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type openAIResponse struct {
	CategoryID    string  `json:"category_id"`
	SubcategoryID string  `json:"subcategory_id"`
	Confidence    float64 `json:"confidence"`
}

const systemPrompt = "You are a personal-finance categorization assistant. " +
	"Given a transaction and the user's categories, pick the best match. " +
	"Return ONLY valid JSON with keys: category_id (string, empty if no good match), " +
	"subcategory_id (string, may be empty), confidence (number 0-1). " +
	"Never invent ids that are not in the provided list."

func (o *OpenAI) Classify(ctx context.Context, in Input, categories []*category.Category) (Suggestion, error) {
	if len(categories) == 0 {
		return Suggestion{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, openAITimeout)
	defer cancel()

	req := openAIRequest{
		Description:      in.Name,
		Merchant:         in.MerchantName,
		ProviderCategory: strings.TrimSpace(in.ProviderCategory + " " + in.ProviderSubcategory),
		Amount:           in.Amount,
	}
	for _, c := range categories {
		oc := openAICategory{ID: c.ID, Name: c.Name, Group: c.Group}
		for i := range c.Subcategories {
			oc.Subcategories = append(oc.Subcategories, openAISubcategory{
				ID:   c.Subcategories[i].ID,
				Name: c.Subcategories[i].Name,
			})
		}
		req.Categories = append(req.Categories, oc)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Input JSON:\n" + string(payload)),
		},
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Suggestion{}, fmt.Errorf("openai returned no choices")
	}

	var out openAIResponse
	if err := decodeJSON(completion.Choices[0].Message.Content, &out); err != nil {
		return Suggestion{}, fmt.Errorf("failed to parse openai response: %w", err)
	}

	// Reject hallucinated ids rather than writing them to the ledger.
	sug := validateSuggestion(out, categories)
	return sug, nil
}

func validateSuggestion(out openAIResponse, categories []*category.Category) Suggestion {
	if out.CategoryID == "" {
		return Suggestion{}
	}
	for _, c := range categories {
		if c.ID != out.CategoryID {
			continue
		}
		sug := Suggestion{CategoryID: c.ID, Confidence: clamp01(out.Confidence)}
		if out.SubcategoryID != "" {
			for i := range c.Subcategories {
				if c.Subcategories[i].ID == out.SubcategoryID {
					id := c.Subcategories[i].ID
					sug.SubcategoryID = &id
					break
				}
			}
		}
		return sug
	}
	return Suggestion{}
}

// decodeJSON tolerates a fenced ```json block around the payload.
func decodeJSON(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return json.Unmarshal([]byte(strings.TrimSpace(raw)), out)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
