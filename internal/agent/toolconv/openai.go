package toolconv

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/tillerhq/tiller/pkg/models"
)

// ToOpenAITools converts tool definitions to the OpenAI function schema.
// The same wire types are reused by OpenAI-compatible local servers.
func ToOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  SanitizeSchemaMap(tool.Schema),
			},
		}
	}
	return result
}
